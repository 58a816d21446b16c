/*
Package status bridges the job record onto the two status document
dialects clients consume.

Legacy WPS clients poll an ExecuteResponse XML file under the served
output tree; OGC API Processes clients fetch a JSON status document
with navigation links. Both are projections of the same types.Job, so
this package owns the rendering and keeps the on-disk artifacts in
step with the record.

# File Layout

For a job the Writer maintains, under the output directory:

	<output_dir>/<job_id>.xml    ExecuteResponse status document
	<output_dir>/<wps_id>.xml    alias when the job carries a WPS UUID
	<output_dir>/<job_id>.log    plain-text job log

The XML documents carry statusLocation = <output_url>/<job_id>.xml, so
a client that received the alias still converges on the canonical file.
Log lines are formatted as "[timestamp] LEVEL [logger] message",
mirroring the job's in-record log list.

# Write Throttling

Progress updates arrive far faster than pollers read. Update rewrites
the XML document at most once per two seconds for a live job; terminal
transitions always write. Write bypasses the throttle for callers that
need an immediate document, such as the initial accepted state.

# Usage

	writer := status.NewWriter(outputDir, outputURL, capabilitiesURL)
	writer.Write(job, process.Title)
	...
	job.SetProgress(42)
	job.SaveLog("running step")
	writer.Update(job, process.Title)
	writer.SyncLog(job, "")

# Integration Points

  - pkg/engine calls Update and SyncLog from the job worker and Forget
    once the worker retires.
  - pkg/api serves the JSON documents built by Document and Results and
    exposes the output tree holding the XML files.
  - pkg/wps renders and parses the ExecuteResponse XML itself.
*/
package status
