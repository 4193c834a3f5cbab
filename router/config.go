package router

// Config is one routing configuration document.
//
//	{
//	  "pools": {
//	    "cold": {"servers": [{"type": "redis", "addr": "10.0.0.1:6379"}]},
//	    "warm": {"servers": [{"type": "ristretto", "max_cost": 67108864}]}
//	  },
//	  "route": {
//	    "type": "warmup", "exptime": 300,
//	    "cold": {"type": "pool", "pool": "cold"},
//	    "warm": {"type": "pool", "pool": "warm"}
//	  }
//	}
type Config struct {
	Pools map[string]PoolConfig `json:"pools,omitempty"`
	Route RouteConfig           `json:"route"`
}

type PoolConfig struct {
	Servers []ServerConfig `json:"servers"`
}

// Backend types.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendRistretto = "ristretto"
	BackendBigCache  = "bigcache"
)

// ServerConfig describes one backend. Two servers with identical configs
// share a transport, also across reloads.
type ServerConfig struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type"`

	// redis
	Addr      string `json:"addr,omitempty"`
	DB        int    `json:"db,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`

	// ristretto
	MaxCost int64 `json:"max_cost,omitempty"`

	// bigcache
	LifeWindowSec int `json:"life_window_sec,omitempty"`
	MaxSizeMB     int `json:"max_size_mb,omitempty"`
}

// Route node types.
const (
	RoutePool     = "pool"     // hash over the servers of Pool
	RouteHash     = "hash"     // hash over Children
	RouteWarmUp   = "warmup"   // Cold and Warm
	RouteFailover = "failover" // Children in order
	RouteAllSync  = "all_sync" // every child, worst reply
	RouteNull     = "null"     // negative reply, no backend
	RouteError    = "error"    // local error with Message
	RouteServer   = "server"   // one inline Server
)

// RouteConfig is one node of the route tree. Which fields apply depends on
// Type.
type RouteConfig struct {
	Type string `json:"type"`

	Pool   string        `json:"pool,omitempty"`
	Salt   string        `json:"salt,omitempty"`
	Server *ServerConfig `json:"server,omitempty"`

	Cold      *RouteConfig `json:"cold,omitempty"`
	Warm      *RouteConfig `json:"warm,omitempty"`
	Exptime   uint32       `json:"exptime,omitempty"`
	RestoreOp string       `json:"restore_op,omitempty"`

	Children []RouteConfig `json:"children,omitempty"`
	Message  string        `json:"message,omitempty"`
}
