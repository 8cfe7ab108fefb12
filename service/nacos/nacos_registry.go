package nacos

import (
	"sync"

	"PChat/logger"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type namingAPI interface {
	RegisterInstance(param vo.RegisterInstanceParam) (bool, error)
	DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error)
}

// Registry 把网关节点登记为临时实例，供接入层发现
type Registry struct {
	ServiceName string
	IP          string
	Port        uint64
	Group       string

	mu         sync.Mutex
	client     namingAPI
	registered bool
}

func NewRegistry(client namingAPI, serviceName, ip string, port uint64, group string) *Registry {
	if group == "" {
		group = "DEFAULT_GROUP"
	}
	return &Registry{ServiceName: serviceName, IP: ip, Port: port, Group: group, client: client}
}

// Register 重复调用会覆盖 metadata
func (r *Registry) Register(metadata map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		ClusterName: "DEFAULT",
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    metadata,
	})
	if err != nil {
		return errors.Wrap(err, "nacos register")
	}
	if !ok {
		return errors.New("nacos register returned false")
	}
	r.registered = true
	logger.Info("[nacos] instance registered",
		zap.String("service", r.ServiceName), zap.String("ip", r.IP), zap.Uint64("port", r.Port))
	return nil
}

func (r *Registry) Deregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.registered {
		return nil
	}
	_, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		Cluster:     "DEFAULT",
		Ephemeral:   true,
	})
	if err != nil {
		return errors.Wrap(err, "nacos deregister")
	}
	r.registered = false
	return nil
}
