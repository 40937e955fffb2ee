// Package registry resolves API surface names to host endpoint
// addresses. Hosts register the address they serve a surface on; clients
// discover it instead of being configured with a literal address.
package registry

// Endpoint is one host address serving an API surface.
type Endpoint struct {
	Addr    string // endpoint address, e.g. "tcp://10.0.0.5:9000"
	Version string // optional build/release tag, informational
}

// Registry publishes and resolves surface endpoints.
type Registry interface {
	Register(surface string, ep Endpoint, ttl int64) error
	Deregister(surface string, addr string) error
	Discover(surface string) ([]Endpoint, error)
	Watch(surface string) <-chan []Endpoint
}

// Static is a fixed in-memory Registry for tests and single-host
// deployments without etcd.
type Static struct {
	Endpoints map[string][]Endpoint
}

func (s *Static) Register(surface string, ep Endpoint, ttl int64) error {
	if s.Endpoints == nil {
		s.Endpoints = make(map[string][]Endpoint)
	}
	s.Endpoints[surface] = append(s.Endpoints[surface], ep)
	return nil
}

func (s *Static) Deregister(surface string, addr string) error {
	eps := s.Endpoints[surface]
	for i, ep := range eps {
		if ep.Addr == addr {
			s.Endpoints[surface] = append(eps[:i], eps[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Static) Discover(surface string) ([]Endpoint, error) {
	return s.Endpoints[surface], nil
}

func (s *Static) Watch(surface string) <-chan []Endpoint {
	ch := make(chan []Endpoint)
	close(ch)
	return ch
}
