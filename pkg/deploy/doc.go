/*
Package deploy implements the client-side deployment and execution
operations behind the trellis CLI.

It reads application and workflow packages from local files, assembles
the OGC deploy payload the server expects, parses the id=value / id=@href
input arguments of `trellis execute`, and watches a submitted job's
status location until the job settles.

The package never talks to the store or the engine directly; everything
goes through pkg/client against a running service.
*/
package deploy
