package dbx

import (
	"time"

	"github.com/hatlonely/dbx/log"
)

// Options 客户端完整配置。零值字段由 def tag 补齐，
// 可以直接用 cfg 包从 json/yaml/toml/ini 文件加载。
type Options struct {
	// Driver 后端类型：mysql / postgres / sqlite
	Driver string `cfg:"driver" def:"sqlite" validate:"oneof=mysql postgres sqlite"`

	// 连接参数。sqlite 只用 Database（文件路径或 :memory:）。
	Host     string `cfg:"host"`
	Port     int    `cfg:"port"`
	Database string `cfg:"database" validate:"required"`
	Username string `cfg:"username"`
	Password string `cfg:"password"`
	SslMode  string `cfg:"sslMode"`
	Charset  string `cfg:"charset"`

	// ConnectTimeout 建连超时
	ConnectTimeout time.Duration `cfg:"connectTimeout" def:"3s"`
	// CommandTimeout 单条语句的执行超时，0 表示不限制
	CommandTimeout time.Duration `cfg:"commandTimeout" def:"30s"`

	// 连接池参数。MinPoolSize 是指针：不设时预热 1 个连接，
	// 显式设为 0 表示不预热。
	MinPoolSize    *int          `cfg:"minPoolSize" validate:"omitempty,gte=0"`
	MaxPoolSize    int           `cfg:"maxPoolSize" def:"10" validate:"gt=0"`
	MaxIdleTime    time.Duration `cfg:"maxIdleTime" def:"10m"`
	AcquireTimeout time.Duration `cfg:"acquireTimeout" def:"5s"`

	// EnableAutoSync 首次访问表时自动同步结构
	EnableAutoSync bool `cfg:"enableAutoSync" def:"true"`
	// DryRunSync 同步只计算差异不执行 DDL
	DryRunSync bool `cfg:"dryRunSync" def:"false"`
	// EnableLedger 把自动执行的 DDL 记入台账表
	EnableLedger bool `cfg:"enableLedger" def:"false"`

	// 查询结果缓存
	EnableCaching   bool          `cfg:"enableCaching" def:"true"`
	DefaultCacheTTL time.Duration `cfg:"defaultCacheTTL" def:"5m"`
	CacheCapacity   int           `cfg:"cacheCapacity" def:"10000" validate:"gt=0"`

	// 慢查询日志
	LogSlowQueries     bool          `cfg:"logSlowQueries" def:"true"`
	SlowQueryThreshold time.Duration `cfg:"slowQueryThreshold" def:"200ms"`

	// Log 日志输出配置，nil 时不输出日志
	Log *log.SLogOptions `cfg:"log"`
}
