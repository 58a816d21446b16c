// Package config exposes typed accessors over the service configuration
// file. Values are read through a process-wide viper instance so every
// component sees the same settings without threading a struct around.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Deployment roles. An EMS dispatches workflow steps to remote
// deployments; an ADES runs application packages locally.
const (
	ConfigurationEMS  = "EMS"
	ConfigurationADES = "ADES"
)

// SetValue overrides a single key, mainly for tests and CLI flags.
func SetValue(key string, value interface{}) {
	viper.Set(key, value)
}

// LoadConfig reads the configuration file at path. YAML, JSON and INI
// are accepted, inferred from the file extension. Environment variables
// prefixed TRELLIS_ override file values, with dots spelled as
// underscores (TRELLIS_WPS_OUTPUT_DIR overrides wps.output_dir).
func LoadConfig(path string) error {
	viper.SetEnvPrefix("TRELLIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		viper.SetConfigType(ext)
	} else {
		viper.SetConfigType("yaml")
	}
	return viper.ReadInConfig()
}

// Reset clears all settings. Test helper.
func Reset() {
	viper.Reset()
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getFromFile(configPath, item string) string {
	path := getString(configPath, "")
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(path, item))
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(data), "\r\n")
}

// GetConfiguration returns the deployment role, EMS or ADES.
func GetConfiguration() string {
	role := strings.ToUpper(getString(keyConfiguration, ConfigurationADES))
	if role != ConfigurationEMS && role != ConfigurationADES {
		return ConfigurationADES
	}
	return role
}

func IsEMS() bool {
	return GetConfiguration() == ConfigurationEMS
}

func IsADES() bool {
	return GetConfiguration() == ConfigurationADES
}

// GetDataSourcesPath returns the path of the data source table file.
func GetDataSourcesPath() string {
	return getString(keyDataSources, "")
}

// GetPublicURL returns the public base URL of this service.
func GetPublicURL() string {
	return strings.TrimRight(getString(wpsURL, "http://localhost:4001"), "/")
}

// GetWPSPath returns the mount path of the WPS-1 endpoint.
func GetWPSPath() string {
	return getString(wpsPath, "/ows/wps")
}

// GetOutputDir returns the local root where job outputs are published.
func GetOutputDir() string {
	return getString(wpsOutputDir, filepath.Join(os.TempDir(), "wps_outputs"))
}

// GetOutputURL returns the public URL root serving job outputs.
func GetOutputURL() string {
	def := GetPublicURL() + "/wpsoutputs"
	return strings.TrimRight(getString(wpsOutputURL, def), "/")
}

// GetOutputContext returns the default output sub-directory. Requests
// may override it with the X-WPS-Output-Context header.
func GetOutputContext() string {
	return strings.Trim(getString(wpsOutputContext, ""), "/")
}

// GetWorkDir returns the scratch root under which per-job working
// directories are allocated.
func GetWorkDir() string {
	return getString(wpsWorkDir, os.TempDir())
}

// GetOutputS3Bucket returns the bucket outputs are replicated to, empty
// when S3 replication is disabled.
func GetOutputS3Bucket() string {
	return getString(wpsOutputS3Bucket, "")
}

func GetOutputS3Region() string {
	return getString(wpsOutputS3Region, "")
}

// GetListenAddress returns the HTTP bind address.
func GetListenAddress() string {
	return getString(apiListen, ":4001")
}

// IsAuthRequired reports whether mutating routes demand a bearer token.
func IsAuthRequired() bool {
	return getBool(apiAuthRequired, false)
}

// GetWorkers returns the size of the job worker pool.
func GetWorkers() int {
	n := getInt(engineWorkers, runtime.NumCPU())
	if n < 1 {
		return 1
	}
	return n
}

// GetJobTimeoutSecond returns the per-job execution budget.
func GetJobTimeoutSecond() int {
	return getInt(engineJobTimeout, 3600)
}

// GetWorkdirRetentionHour returns how long finished job workdirs are
// kept before the janitor removes them.
func GetWorkdirRetentionHour() int {
	return getInt(engineWorkdirRetention, 24)
}

// GetContainerdSocket returns the containerd socket the local runner
// connects to; empty uses the runtime default.
func GetContainerdSocket() string {
	return getString(engineContainerdSocket, "")
}

// GetDataDir returns the directory holding the persistent store.
func GetDataDir() string {
	return getString(storeDataDir, "/var/lib/trellis")
}

func GetSMTPHost() string {
	return getString(notifySMTPHost, "")
}

func GetSMTPPort() int {
	return getInt(notifySMTPPort, 587)
}

func GetSMTPUser() string {
	return getString(notifySMTPUser, "")
}

func GetSMTPPassword() string {
	if pw := getString(notifySMTPPassword, ""); pw != "" {
		return pw
	}
	return getFromFile(securitySecretPath, "smtp_password")
}

func GetNotifyFrom() string {
	return getString(notifyFrom, "")
}

// IsNotifyEnabled reports whether job notification emails are sent.
func IsNotifyEnabled() bool {
	return GetSMTPHost() != ""
}

// GetSecretKey returns the key sealing stored secrets, read from the
// config value or from <secret_path>/secret_key.
func GetSecretKey() string {
	if key := getString(securitySecretKey, ""); key != "" {
		return key
	}
	return getFromFile(securitySecretPath, "secret_key")
}

// GetTokenExpireSecond returns the lifetime of issued access tokens.
func GetTokenExpireSecond() int {
	return getInt(securityTokenExpire, 3600)
}

func GetLogLevel() string {
	return getString(logLevel, "info")
}

func IsLogJSON() bool {
	return getBool(logJSON, false)
}
