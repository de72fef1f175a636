// Package config loads the tunable set a Server is configured from: a thin
// YAML layer over internal/constants' defaults, with size-valued fields
// expressed in human-readable form (`16MB`, `4GB`) via datasize.ByteSize
// instead of raw byte counts.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/appnexus/httpcore"
	"github.com/appnexus/httpcore/internal/constants"
)

// Tunables is the full set of knobs a Server is configured from.
type Tunables struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	NumThreads           int `yaml:"num_threads"`
	MaxTotalConnections  int `yaml:"max_total_connections"`
	MaxActiveConnections int `yaml:"max_active_connections"`
	RequestTimeoutMS     int `yaml:"request_timeout_ms"`

	MaxResponseSize           datasize.ByteSize `yaml:"max_response_size"`
	BumpSize                  datasize.ByteSize `yaml:"BUMP_SIZE"`
	PoolSize                  datasize.ByteSize `yaml:"POOL_SIZE"`
	TotalLargeAllocationLimit datasize.ByteSize `yaml:"TOTAL_LARGE_ALLOCATION_LIMIT"`

	RTBRDelayTicks       uint64 `yaml:"RTBR_DELAY_TICKS"`
	RTBRHardPollPeriodMS int    `yaml:"RTBR_HARD_POLL_PERIOD_MS"`
}

// Load reads and parses a YAML tunables file at path, filling any
// zero-valued field from internal/constants' defaults.
func Load(path string) (*Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var t Tunables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	t.applyDefaults()
	return &t, nil
}

func (t *Tunables) applyDefaults() {
	if t.NumThreads == 0 {
		t.NumThreads = constants.DefaultIOThreads
	}
	if t.MaxTotalConnections == 0 {
		t.MaxTotalConnections = constants.DefaultMaxTotalConnections
	}
	if t.MaxActiveConnections == 0 {
		t.MaxActiveConnections = constants.DefaultMaxActiveConnections
	}
	if t.RequestTimeoutMS == 0 {
		t.RequestTimeoutMS = int(constants.DefaultRequestTimeout / time.Millisecond)
	}
	if t.MaxResponseSize == 0 {
		t.MaxResponseSize = datasize.ByteSize(constants.DefaultMaxResponseSize)
	}
	if t.BumpSize == 0 {
		t.BumpSize = datasize.ByteSize(constants.DefaultBumpSize)
	}
	if t.PoolSize == 0 {
		t.PoolSize = datasize.ByteSize(constants.DefaultPoolSize)
	}
	if t.TotalLargeAllocationLimit == 0 {
		t.TotalLargeAllocationLimit = datasize.ByteSize(constants.DefaultTotalLargeAllocationLimit)
	}
	if t.RTBRDelayTicks == 0 {
		t.RTBRDelayTicks = constants.DefaultRTBRDelayTicks
	}
	if t.RTBRHardPollPeriodMS == 0 {
		t.RTBRHardPollPeriodMS = int(constants.DefaultHardPollPeriod / time.Millisecond)
	}
	if t.Host == "" {
		t.Host = "0.0.0.0"
	}
}

// Params translates the loaded tunables into httpcore.Params.
func (t *Tunables) Params() httpcore.Params {
	p := httpcore.DefaultParams(t.Host, t.Port)
	p.NumThreads = t.NumThreads
	p.MaxTotalConnections = t.MaxTotalConnections
	p.MaxActiveConnections = t.MaxActiveConnections
	p.RequestTimeout = time.Duration(t.RequestTimeoutMS) * time.Millisecond
	p.MaxResponseSize = int(t.MaxResponseSize.Bytes())
	p.BumpSize = uintptr(t.BumpSize.Bytes())
	p.PoolSize = uintptr(t.PoolSize.Bytes())
	p.TotalLargeAllocationLimit = uintptr(t.TotalLargeAllocationLimit.Bytes())
	p.RTBRDelayTicks = t.RTBRDelayTicks
	p.RTBRHardPollPeriod = time.Duration(t.RTBRHardPollPeriodMS) * time.Millisecond
	return p
}
