package pgo

import (
	"github.com/bryanhughes/pgo/internal/config"
	"github.com/bryanhughes/pgo/internal/pgpool"
)

// LoadPools reads a YAML config file (see internal/config for the schema:
// defaults plus a named pools map, ${VAR} environment substitution) and
// calls StartPool once per entry, returning the pools it started keyed by
// name. Equivalent to calling StartPool by hand for every entry in
// cfg.Pools, for callers that would rather manage one file than a call per
// pool.
func LoadPools(path string) (map[string]*pgpool.Pool, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	started := make(map[string]*pgpool.Pool, len(cfg.Pools))
	for name, pc := range cfg.Pools {
		p, err := StartPool(name, PoolConfig{
			Size:            pc.EffectiveSize(cfg.Defaults),
			Host:            pc.Host,
			Port:            pc.Port,
			User:            pc.User,
			Password:        pc.Password,
			Database:        pc.Database,
			SSLMode:         sslModeFromString(pc.SSLMode),
			ApplicationName: pc.ApplicationName,
			Timezone:        pc.Timezone,
			AcquireTimeout:  pc.EffectiveAcquireTimeout(cfg.Defaults),
			IdleTimeout:     pc.EffectiveIdleTimeout(cfg.Defaults),
			MaxLifetime:     pc.EffectiveMaxLifetime(cfg.Defaults),
		})
		if err != nil {
			return started, err
		}
		started[name] = p
	}
	return started, nil
}

func sslModeFromString(s string) SSLMode {
	switch s {
	case "prefer":
		return SSLPrefer
	case "require":
		return SSLRequire
	default:
		return SSLDisable
	}
}
