package config

const (
	// deployment role
	keyConfiguration = "configuration"
	keyDataSources   = "data_sources"

	// wps
	wpsPrefix         = "wps."
	wpsURL            = wpsPrefix + "url"
	wpsPath           = wpsPrefix + "path"
	wpsOutputDir      = wpsPrefix + "output_dir"
	wpsOutputURL      = wpsPrefix + "output_url"
	wpsOutputContext  = wpsPrefix + "output_context"
	wpsWorkDir        = wpsPrefix + "workdir"
	wpsOutputS3Bucket = wpsPrefix + "output_s3_bucket"
	wpsOutputS3Region = wpsPrefix + "output_s3_region"

	// api
	apiPrefix       = "api."
	apiListen       = apiPrefix + "listen"
	apiAuthRequired = apiPrefix + "auth_required"

	// engine
	enginePrefix           = "engine."
	engineWorkers          = enginePrefix + "workers"
	engineJobTimeout       = enginePrefix + "job_timeout_second"
	engineWorkdirRetention = enginePrefix + "workdir_retention_hour"
	engineContainerdSocket = enginePrefix + "containerd_socket"

	// store
	storePrefix  = "store."
	storeDataDir = storePrefix + "data_dir"

	// notify
	notifyPrefix       = "notify."
	notifySMTPHost     = notifyPrefix + "smtp_host"
	notifySMTPPort     = notifyPrefix + "smtp_port"
	notifySMTPUser     = notifyPrefix + "smtp_user"
	notifySMTPPassword = notifyPrefix + "smtp_password"
	notifyFrom         = notifyPrefix + "from"

	// security
	securityPrefix      = "security."
	securitySecretKey   = securityPrefix + "secret_key"
	securitySecretPath  = securityPrefix + "secret_path"
	securityTokenExpire = securityPrefix + "token_expire_second"

	// log
	logPrefix = "log."
	logLevel  = logPrefix + "level"
	logJSON   = logPrefix + "json"
)
