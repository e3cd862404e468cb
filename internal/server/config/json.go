package config

import (
	"encoding/json"
	"os"

	"github.com/mkuznecov/fileexport/internal/flagx"
	"github.com/mkuznecov/fileexport/internal/timex"
)

// JsonConfig is the DTO for reading JSON configuration files. Interval
// fields use timex.Duration so both "30s" strings and integer nanoseconds
// parse. After unmarshalling, non-zero fields are copied into the runtime
// Config.
type JsonConfig struct {
	EndpointAddr string `json:"endpoint_addr"`
	DatabaseDSN  string `json:"database_dsn"`
	SecretKey    string `json:"secret_key"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	ChunkFileLimit     int   `json:"chunk_file_limit"`
	ChunkSizeThreshold int64 `json:"chunk_size_threshold"`
	ProbeWidth         int   `json:"probe_width"`

	InitialTimerDelay timex.Duration `json:"initial_timer_delay"`
	ChunkInterval     timex.Duration `json:"chunk_interval"`
	SweepInterval     timex.Duration `json:"sweep_interval"`
	StuckAfter        timex.Duration `json:"stuck_after"`
	ArchiveRetention  timex.Duration `json:"archive_retention"`
}

// parseJson loads configuration values from the JSON file named by the
// -c/-config flags into the provided Config. When no file is named, nothing
// is loaded. An unreadable or invalid file panics, matching flag handling.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
	if c.ChunkFileLimit > 0 {
		config.ChunkFileLimit = c.ChunkFileLimit
	}
	if c.ChunkSizeThreshold > 0 {
		config.ChunkSizeThreshold = c.ChunkSizeThreshold
	}
	if c.ProbeWidth > 0 {
		config.ProbeWidth = c.ProbeWidth
	}
	if c.InitialTimerDelay.Duration > 0 {
		config.InitialTimerDelay = c.InitialTimerDelay.Duration
	}
	if c.ChunkInterval.Duration > 0 {
		config.ChunkInterval = c.ChunkInterval.Duration
	}
	if c.SweepInterval.Duration > 0 {
		config.SweepInterval = c.SweepInterval.Duration
	}
	if c.StuckAfter.Duration > 0 {
		config.StuckAfter = c.StuckAfter.Duration
	}
	if c.ArchiveRetention.Duration > 0 {
		config.ArchiveRetention = c.ArchiveRetention.Duration
	}
}
