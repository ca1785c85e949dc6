package handlers

import "net/http"

// APIPrefix 是业务接口的路径前缀
const APIPrefix = "/api/v1"

// Routes 汇总所有处理器。Metrics 为 nil 时不注册 /metrics。
type Routes struct {
	Health      *HealthHandler
	Documents   *DocumentHandler
	Checkpoints *CheckpointHandler
	Executions  *ExecutionHandler
	Metrics     http.Handler
}

// Register 把路由注册到 mux
func (rt Routes) Register(mux *http.ServeMux) {
	if rt.Health != nil {
		mux.HandleFunc("GET /health", rt.Health.HandleHealth)
		mux.HandleFunc("GET /ready", rt.Health.HandleReady)
	}
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}

	if d := rt.Documents; d != nil {
		mux.HandleFunc("POST "+APIPrefix+"/documents", d.HandleCreate)
		mux.HandleFunc("GET "+APIPrefix+"/documents", d.HandleList)
		mux.HandleFunc("GET "+APIPrefix+"/documents/{id}", d.HandleGet)
		mux.HandleFunc("POST "+APIPrefix+"/documents/{id}/messages", d.HandleEdit)
	}
	if c := rt.Checkpoints; c != nil {
		mux.HandleFunc("POST "+APIPrefix+"/messages/{id}/checkpoint", c.HandleCreate)
		mux.HandleFunc("GET "+APIPrefix+"/checkpoints/{id}", c.HandleGet)
		mux.HandleFunc("POST "+APIPrefix+"/checkpoints/{id}/restore", c.HandleRestore)
		mux.HandleFunc("DELETE "+APIPrefix+"/checkpoints/{id}", c.HandleDelete)
	}
	if e := rt.Executions; e != nil {
		mux.HandleFunc("GET "+APIPrefix+"/executions/{id}", e.HandleGet)
		mux.HandleFunc("GET "+APIPrefix+"/executions/{id}/events", e.HandleEvents)
	}
}
