package props

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/keithlinneman/headerguard/internal/log"
	"github.com/keithlinneman/headerguard/internal/xerrors"
)

// descriptor formats viper can decode, keyed by file extension
var descriptorFormats = map[string]string{
	"yaml": "yaml",
	"yml":  "yaml",
	"json": "json",
	"toml": "toml",
	"env":  "env",
}

// FormatFromPath maps a descriptor file name to its viper config type.
func FormatFromPath(p string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
	f, ok := descriptorFormats[ext]
	if !ok {
		return "", xerrors.Newf("unsupported descriptor format %q for %s (want yaml, json, toml or env)", ext, p)
	}
	return f, nil
}

// ParseDescriptor decodes a descriptor document into flat properties.
// Nested keys are joined with '.', scalar values are stringified.
func ParseDescriptor(format string, data []byte) (map[string]string, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, xerrors.Wrapf(err, "parse %s descriptor", format)
	}
	return flatten(v), nil
}

// LoadDescriptorFile reads and decodes a descriptor from disk.
func LoadDescriptorFile(path string) (map[string]string, error) {
	v, err := newFileViper(path)
	if err != nil {
		return nil, err
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, xerrors.Wrapf(err, "read descriptor %s", path)
	}
	return flatten(v), nil
}

func newFileViper(path string) (*viper.Viper, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(format)
	return v, nil
}

func flatten(v *viper.Viper) map[string]string {
	keys := v.AllKeys()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = v.GetString(k)
	}
	return out
}

// WatchDescriptorFile loads path into target and keeps it in sync as the
// file changes. A reload that fails to parse leaves target untouched.
// onReload, if set, is called after every reload attempt.
func WatchDescriptorFile(ctx context.Context, L log.Logger, path string, target *Snapshot, onReload func(changed bool, err error)) error {
	v, err := newFileViper(path)
	if err != nil {
		return err
	}
	if err := v.ReadInConfig(); err != nil {
		return xerrors.Wrapf(err, "read descriptor %s", path)
	}
	target.Replace(flatten(v))
	L.Info(ctx, "loaded property descriptor", "path", path, "keys", target.Len())

	v.OnConfigChange(func(e fsnotify.Event) {
		// viper has no way to stop watching, so go quiet once we are shutting down
		if ctx.Err() != nil {
			return
		}
		// viper re-reads before calling us; read again so parse errors surface here
		fresh, err := newFileViper(path)
		if err == nil {
			err = fresh.ReadInConfig()
		}
		if err != nil {
			err = xerrors.Wrapf(err, "reload descriptor %s", path)
			L.Error(ctx, err, "property descriptor reload failed, keeping previous values", "event", e.Op.String())
			if onReload != nil {
				onReload(false, err)
			}
			return
		}
		changed := target.Replace(flatten(fresh))
		L.Info(ctx, "property descriptor reloaded", "path", path, "changed", changed, "keys", target.Len())
		if onReload != nil {
			onReload(changed, nil)
		}
	})
	v.WatchConfig()
	return nil
}
