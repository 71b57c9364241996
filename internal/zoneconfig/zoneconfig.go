// Package zoneconfig holds the typed configuration the core is built from.
// Parsing the zone server's native text configuration format (with its
// preprocessor semantics) is out of scope (spec §1 non-goals); this package
// only defines the struct shape of the `Net`, bandwidth, and `Listen*` keys
// named in spec §6 and loads them with viper, which covers YAML/TOML/INI/env
// sources without reimplementing the original format.
package zoneconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Net holds the §6 `Net` section keys governing the reliable stream,
// out-list ceiling, and presized-transfer thresholds.
type Net struct {
	DropTimeoutMS          int `mapstructure:"DropTimeout"`
	MaxOutlistSize         int `mapstructure:"MaxOutlistSize"`
	MaxRetries             int `mapstructure:"MaxRetries"`
	PresizedQueueThreshold int `mapstructure:"PresizedQueueThreshold"`
	PresizedQueuePackets   int `mapstructure:"PresizedQueuePackets"`
	ReliableThreads        int `mapstructure:"ReliableThreads"`
	PerPacketOverhead      int `mapstructure:"PerPacketOverhead"`
	PingDataRefreshMS      int `mapstructure:"PingDataRefreshTime"`
	// MaxPlayers bounds the player registry's size (spec §6, §7's
	// resource-exhaustion handling: a connection-init past this cap gets
	// the 00 07 out-of-slots reply instead of a new player record). Zero
	// means unlimited.
	MaxPlayers int `mapstructure:"MaxPlayers"`
}

// Bandwidth holds the §6 bandwidth keys for the token-bucket limiter (§4.4).
type Bandwidth struct {
	LimitMinimum int    `mapstructure:"LimitMinimum"`
	LimitMaximum int    `mapstructure:"LimitMaximum"`
	SendAtOnce   int    `mapstructure:"SendAtOnce"`
	LimitScale   int    `mapstructure:"LimitScale"`
	Burst        int    `mapstructure:"Burst"`
	UseHitLimit  bool   `mapstructure:"UseHitLimit"`
	PriLimit     [5]int `mapstructure:"-"`
}

// ListenBucket describes one listening bucket (§3, §6): a game socket and a
// ping socket one port above it, with acceptance policy flags.
type ListenBucket struct {
	Port        int    `mapstructure:"Port"`
	BindAddress string `mapstructure:"BindAddress"`
	AllowVIE    bool   `mapstructure:"AllowVIE"`
	AllowCont   bool   `mapstructure:"AllowCont"`
	ConnectAs   string `mapstructure:"ConnectAs"`
}

// Config is the fully assembled, typed configuration the core's components
// are constructed from.
type Config struct {
	Net       Net
	Bandwidth Bandwidth
	Listen    []ListenBucket
}

// Defaults matches the defaults enumerated in spec §6.
func Defaults() Config {
	return Config{
		Net: Net{
			DropTimeoutMS:          3000,
			MaxOutlistSize:         200,
			MaxRetries:             15,
			PresizedQueueThreshold: 5,
			PresizedQueuePackets:   25,
			ReliableThreads:        1,
			PerPacketOverhead:      28,
			PingDataRefreshMS:      200,
			MaxPlayers:             1000,
		},
		Bandwidth: Bandwidth{
			LimitMinimum: 2500,
			LimitMaximum: 102400,
			SendAtOnce:   30,
			LimitScale:   512,
			Burst:        4 * 512,
			UseHitLimit:  false,
			PriLimit:     [5]int{20, 40, 20, 15, 5},
		},
		Listen: []ListenBucket{
			{Port: 5000, BindAddress: "0.0.0.0", AllowVIE: true, AllowCont: true, ConnectAs: ""},
		},
	}
}

// Load reads configuration from path (if non-empty) merged over process
// environment variables prefixed ZONE_, falling back to Defaults for any
// key neither source sets. Listen buckets are decoded from a `listen` array
// of tables, one entry per `Listen`, `Listen1`, `Listen2`, ... key group
// named in spec §6.
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("ZONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("zoneconfig: reading %s: %w", path, err)
		}
	}

	if v.IsSet("net") {
		if err := v.UnmarshalKey("net", &cfg.Net); err != nil {
			return cfg, fmt.Errorf("zoneconfig: decoding net section: %w", err)
		}
	}
	if v.IsSet("bandwidth") {
		if err := v.UnmarshalKey("bandwidth", &cfg.Bandwidth); err != nil {
			return cfg, fmt.Errorf("zoneconfig: decoding bandwidth section: %w", err)
		}
		if pl, ok := v.Get("bandwidth.prilimit").([]interface{}); ok {
			for i := 0; i < len(pl) && i < 5; i++ {
				if n, ok := pl[i].(int); ok {
					cfg.Bandwidth.PriLimit[i] = n
				}
			}
		}
	}
	if v.IsSet("listen") {
		var buckets []ListenBucket
		if err := v.UnmarshalKey("listen", &buckets); err != nil {
			return cfg, fmt.Errorf("zoneconfig: decoding listen buckets: %w", err)
		}
		if len(buckets) > 0 {
			cfg.Listen = buckets
		}
	}

	sum := 0
	for _, p := range cfg.Bandwidth.PriLimit {
		sum += p
	}
	if sum != 100 {
		return cfg, fmt.Errorf("zoneconfig: bandwidth.prilimit entries must sum to 100, got %d", sum)
	}

	if cfg.Bandwidth.LimitScale == 0 {
		cfg.Bandwidth.LimitScale = 512
	}
	if cfg.Bandwidth.Burst == 0 {
		cfg.Bandwidth.Burst = 4 * 512
	}

	return cfg, nil
}
