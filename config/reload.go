// 配置文件热重载。
//
// 以轮询方式监听配置文件修改时间，变化后重新执行 Loader 并校验，
// 成功后替换当前配置并通知回调；失败时保留旧配置。
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 仅这些字段在运行期生效，其余字段的变化需要重启
var hotReloadableFields = map[string]bool{
	"Log.Level": true,
}

// ReloadCallback 在配置替换后被调用
type ReloadCallback func(oldConfig, newConfig *Config, changed []string)

// Reloader 监听配置文件并重新加载
type Reloader struct {
	loader   *Loader
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	current   *Config
	lastMod   time.Time
	callbacks []ReloadCallback
	running   bool
	stop      chan struct{}
}

// NewReloader 以已加载的配置为起点创建 Reloader；interval <= 0 时为 2 秒
func NewReloader(loader *Loader, initial *Config, interval time.Duration, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	r := &Reloader{
		loader:   loader,
		interval: interval,
		logger:   logger.With(zap.String("component", "config_reloader")),
		current:  initial,
	}
	if info, err := os.Stat(loader.ConfigPath()); err == nil {
		r.lastMod = info.ModTime()
	}
	return r
}

// Current 返回当前配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload 注册回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Reload 立即重新加载配置
func (r *Reloader) Reload() error {
	next, err := r.loader.Load()
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	changed := ChangedFields(prev, next)
	for _, path := range changed {
		r.logger.Info("configuration changed",
			zap.String("path", path),
			zap.Bool("requires_restart", !hotReloadableFields[path]),
		)
	}
	return notifySafe(callbacks, prev, next, changed)
}

func notifySafe(callbacks []ReloadCallback, prev, next *Config, changed []string) (retErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			retErr = fmt.Errorf("reload callback panicked: %v", rec)
		}
	}()
	for _, cb := range callbacks {
		cb(prev, next, changed)
	}
	return nil
}

// Start 启动轮询；配置路径为空时返回错误
func (r *Reloader) Start(ctx context.Context) error {
	if r.loader.ConfigPath() == "" {
		return errors.New("no config file to watch")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("reloader already running")
	}
	r.running = true
	r.stop = make(chan struct{})
	stop := r.stop
	r.mu.Unlock()

	go r.pollLoop(ctx, stop)
	r.logger.Info("config reloader started",
		zap.String("path", r.loader.ConfigPath()),
		zap.Duration("interval", r.interval))
	return nil
}

// Stop 停止轮询
func (r *Reloader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	close(r.stop)
	r.running = false
}

func (r *Reloader) pollLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}

		info, err := os.Stat(r.loader.ConfigPath())
		if err != nil {
			continue
		}
		r.mu.Lock()
		modified := info.ModTime().After(r.lastMod)
		if modified {
			r.lastMod = info.ModTime()
		}
		r.mu.Unlock()
		if !modified {
			continue
		}

		if err := r.Reload(); err != nil {
			r.logger.Error("config reload failed, keeping previous configuration", zap.Error(err))
		}
	}
}

// ChangedFields 返回两份配置之间取值不同的字段路径，如 "Log.Level"
func ChangedFields(oldConfig, newConfig *Config) []string {
	if oldConfig == nil || newConfig == nil {
		return nil
	}
	var changed []string
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changed)
	return changed
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changed *[]string) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(path, oldField, newField, changed)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changed = append(*changed, path)
		}
	}
}

// IsHotReloadable 判断字段变化是否无需重启即可生效
func IsHotReloadable(path string) bool {
	return hotReloadableFields[path]
}
