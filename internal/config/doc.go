// Package config loads the intent daemon's JSON configuration. The file path
// comes from OPENMCP_CONFIG; every section carries defaults so the daemon can
// boot without any file at all.
package config
