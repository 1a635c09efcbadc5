package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix は環境変数による上書きの接頭辞（例: POOLSERVER_POOL_WORKERS）
const EnvPrefix = "POOLSERVER"

// 上書き可能なキー
const (
	KeyServerAddr        = "server.addr"
	KeyServerIOTimeout   = "server.io_timeout"
	KeyPoolMode          = "pool.mode"
	KeyPoolWorkers       = "pool.workers"
	KeyPoolQueueCapacity = "pool.queue_capacity"
	KeyRoutesSleep       = "routes.sleep"
	KeyResourcesDir      = "resources.dir"
	KeyAdminAddr         = "admin.addr"
	KeyAdminDisabled     = "admin.disabled"
	KeyLogLevel          = "log.level"
)

// NewViper は環境変数を読む viper インスタンスを返す
// フラグは呼び出し側で BindPFlag する
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		KeyServerAddr, KeyServerIOTimeout, KeyPoolMode, KeyPoolWorkers,
		KeyPoolQueueCapacity, KeyRoutesSleep, KeyResourcesDir,
		KeyAdminAddr, KeyAdminDisabled, KeyLogLevel,
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// ApplyOverrides は v に設定された値（フラグまたは環境変数）で上書きする
func (f *FileConfig) ApplyOverrides(v *viper.Viper) {
	if v.IsSet(KeyServerAddr) {
		f.Server.Addr = v.GetString(KeyServerAddr)
	}
	if v.IsSet(KeyServerIOTimeout) {
		f.Server.IOTimeout = v.GetString(KeyServerIOTimeout)
	}
	if v.IsSet(KeyPoolMode) {
		f.Pool.Mode = v.GetString(KeyPoolMode)
	}
	if v.IsSet(KeyPoolWorkers) {
		f.Pool.Workers = v.GetInt(KeyPoolWorkers)
	}
	if v.IsSet(KeyPoolQueueCapacity) {
		f.Pool.QueueCapacity = v.GetInt(KeyPoolQueueCapacity)
	}
	if v.IsSet(KeyRoutesSleep) {
		f.Routes.Sleep = v.GetString(KeyRoutesSleep)
	}
	if v.IsSet(KeyResourcesDir) {
		f.Resources.Dir = v.GetString(KeyResourcesDir)
	}
	if v.IsSet(KeyAdminAddr) {
		f.Admin.Addr = v.GetString(KeyAdminAddr)
	}
	if v.IsSet(KeyAdminDisabled) {
		f.Admin.Disabled = v.GetBool(KeyAdminDisabled)
	}
	if v.IsSet(KeyLogLevel) {
		f.Log.Level = v.GetString(KeyLogLevel)
	}
}
