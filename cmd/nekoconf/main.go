// NekoConf manages one YAML or JSON configuration file.
//
// Values can be read and changed from the command line or over a small
// JSON API.  Environment variables prefixed NEKOCONF_ override any key
// (server.host ← NEKOCONF_SERVER_HOST), changes can be validated against a
// JSON Schema, and observers are told about every change.
//
// Usage:
//
//	# Serve config.yaml on :8000, reloading when the file changes
//	nekoconf server --config config.yaml --watch
//
//	# Read and change values
//	nekoconf get server.port --config config.yaml
//	nekoconf set server.port 9000 --config config.yaml
//	nekoconf delete server.debug --config config.yaml
//
//	# Merge another file, validate, start a new file
//	nekoconf import overrides.yaml --config config.yaml
//	nekoconf validate --config config.yaml --schema schema.yaml
//	nekoconf init config.yaml
package main

func main() {
	Execute()
}
