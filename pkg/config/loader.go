package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/consul"
	"github.com/knadh/koanf/providers/etcd"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// SourceType selects where a Loader reads its configuration document
// from. Grounded on the teacher's koanf_loader.go ConfigType, kept
// symmetric with discovery.CardStore's etcd/consul/zookeeper trio.
type SourceType string

const (
	SourceFile      SourceType = "file"
	SourceConsul    SourceType = "consul"
	SourceEtcd      SourceType = "etcd"
	SourceZookeeper SourceType = "zookeeper"
)

// ParseSourceType parses s, case-insensitively, accepting "zk" as a
// SourceZookeeper alias.
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "file":
		return SourceFile, nil
	case "consul":
		return SourceConsul, nil
	case "etcd":
		return SourceEtcd, nil
	case "zookeeper", "zk":
		return SourceZookeeper, nil
	default:
		return "", fmt.Errorf("config: invalid source type %q", s)
	}
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	Type SourceType

	// Path is a filesystem path for SourceFile, or a key/znode path for
	// the remote backends.
	Path string

	// Endpoints addresses the remote backend; ignored for SourceFile.
	Endpoints []string

	// Watch starts a background goroutine invoking OnChange whenever
	// the backend reports the document changed.
	Watch    bool
	OnChange func(*Config)

	Log *slog.Logger
}

func (o *LoaderOptions) withDefaults() {
	if o.Type == "" {
		o.Type = SourceFile
	}
	if len(o.Endpoints) == 0 {
		switch o.Type {
		case SourceConsul:
			o.Endpoints = []string{"localhost:8500"}
		case SourceEtcd:
			o.Endpoints = []string{"localhost:2379"}
		case SourceZookeeper:
			o.Endpoints = []string{"localhost:2181"}
		}
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
}

// Loader reads, decodes and (optionally) watches a Config document from
// one of SourceFile/SourceConsul/SourceEtcd/SourceZookeeper, applying
// ${VAR} environment expansion before decoding. Grounded on the
// teacher's pkg/config/koanf_loader.go Loader, narrowed to this mesh's
// single Config document (the teacher's strict structural validator
// and multi-provider agent/LLM/tool graph have no equivalent here: a
// plain koanf.UnmarshalWithConf plus Config.Validate covers it).
type Loader struct {
	k    *koanf.Koanf
	opts LoaderOptions
	zk   *zookeeperProvider
	stop chan struct{}
}

// NewLoader validates opts and returns a ready Loader. It does not read
// the source yet; call Load for that.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	opts.withDefaults()
	if opts.Path == "" {
		return nil, fmt.Errorf("config: path is required")
	}
	return &Loader{k: koanf.New("."), opts: opts, stop: make(chan struct{})}, nil
}

func (l *Loader) provider() (koanf.Provider, koanf.Parser, error) {
	switch l.opts.Type {
	case SourceFile:
		return file.Provider(l.opts.Path), yaml.Parser(), nil

	case SourceConsul:
		cfg := consulapi.DefaultConfig()
		cfg.Address = l.opts.Endpoints[0]
		return consul.Provider(consul.Config{Cfg: cfg, Key: l.opts.Path}), nil, nil

	case SourceEtcd:
		return etcd.Provider(etcd.Config{
			Endpoints:   l.opts.Endpoints,
			DialTimeout: 5 * time.Second,
			Key:         l.opts.Path,
		}), nil, nil

	case SourceZookeeper:
		if l.zk == nil {
			zp, err := newZookeeperProvider(l.opts.Endpoints, l.opts.Path)
			if err != nil {
				return nil, nil, err
			}
			l.zk = zp
		}
		return l.zk, yaml.Parser(), nil

	default:
		return nil, nil, fmt.Errorf("config: unsupported source type %q", l.opts.Type)
	}
}

// Load reads the source, expands environment references, decodes into
// a Config, applies defaults and validates it. If opts.Watch is set it
// also starts a background watch goroutine.
func (l *Loader) Load() (*Config, error) {
	provider, parser, err := l.provider()
	if err != nil {
		return nil, err
	}

	if err := l.k.Load(provider, parser); err != nil {
		return nil, fmt.Errorf("config: load from %s: %w", l.opts.Type, err)
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	if l.opts.Watch {
		go l.watch(provider, parser)
	}
	return cfg, nil
}

// expand re-loads l.k from its own environment-expanded raw data, so
// subsequent decode calls see substituted values.
func (l *Loader) expand() error {
	expanded, ok := expandEnvVarsInData(l.k.Raw()).(map[string]interface{})
	if !ok {
		return fmt.Errorf("config: unexpected type after environment expansion")
	}
	next := koanf.New(".")
	if err := next.Load(confmap.Provider(expanded, "."), nil); err != nil {
		return fmt.Errorf("config: reload expanded document: %w", err)
	}
	l.k = next
	return nil
}

func (l *Loader) decode() (*Config, error) {
	if err := l.expand(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := l.k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// watcher is implemented by providers that support push notification of
// upstream changes (consul.Provider and etcd.Provider both do; the
// zookeeperProvider's watch method is adapted to the same shape below).
type watcher interface {
	Watch(cb func(event interface{}, err error)) error
}

func (l *Loader) watch(provider koanf.Provider, parser koanf.Parser) {
	reload := func() {
		select {
		case <-l.stop:
			return
		default:
		}

		if err := l.k.Load(provider, parser); err != nil {
			l.opts.Log.Error("config: reload failed", "source", l.opts.Type, "error", err)
			return
		}
		cfg, err := l.decode()
		if err != nil {
			l.opts.Log.Error("config: reloaded document invalid", "source", l.opts.Type, "error", err)
			return
		}
		if l.opts.OnChange != nil {
			l.opts.OnChange(cfg)
		}
	}

	if l.opts.Type == SourceZookeeper {
		if err := l.zk.watch(func(event interface{}, err error) {
			if err != nil {
				l.opts.Log.Error("config: zookeeper watch error", "error", err)
				return
			}
			reload()
		}); err != nil {
			l.opts.Log.Error("config: zookeeper watch stopped", "error", err)
		}
		return
	}

	w, ok := provider.(watcher)
	if !ok {
		l.opts.Log.Warn("config: source does not support watching", "source", l.opts.Type)
		return
	}
	if err := w.Watch(func(event interface{}, err error) {
		if err != nil {
			l.opts.Log.Error("config: watch error", "source", l.opts.Type, "error", err)
			return
		}
		reload()
	}); err != nil {
		l.opts.Log.Error("config: watch stopped", "source", l.opts.Type, "error", err)
	}
}

// Stop ends any background watch goroutine started by Load.
func (l *Loader) Stop() {
	close(l.stop)
	if l.zk != nil {
		l.zk.Close()
	}
}

// Load is a convenience wrapper around NewLoader(opts).Load() for
// callers that don't need the Loader handle (e.g. to Stop a watch).
func Load(opts LoaderOptions) (*Config, error) {
	l, err := NewLoader(opts)
	if err != nil {
		return nil, err
	}
	return l.Load()
}
