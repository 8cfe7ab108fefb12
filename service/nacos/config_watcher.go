package nacos

import (
	"sync"

	"PChat/logger"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type configAPI interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(params vo.ConfigParam) error
	CancelListenConfig(params vo.ConfigParam) error
}

// Source 一份 YAML 配置文档，可监听变更
type Source struct {
	cli    configAPI
	dataID string
	group  string

	mu      sync.RWMutex
	current string
}

func NewSource(cli configAPI, dataID, group string) *Source {
	if group == "" {
		group = "DEFAULT_GROUP"
	}
	return &Source{cli: cli, dataID: dataID, group: group}
}

// Fetch 拉取当前内容
func (s *Source) Fetch() (string, error) {
	content, err := s.cli.GetConfig(vo.ConfigParam{DataId: s.dataID, Group: s.group})
	if err != nil {
		return "", errors.Wrapf(err, "nacos get config %s/%s", s.group, s.dataID)
	}
	if content == "" {
		return "", errors.Errorf("nacos config %s/%s is empty", s.group, s.dataID)
	}
	s.update(content)
	return content, nil
}

// Watch 注册变更回调；回调在 nacos 的 goroutine 中执行
func (s *Source) Watch(onChange func(data string)) error {
	err := s.cli.ListenConfig(vo.ConfigParam{
		DataId: s.dataID,
		Group:  s.group,
		OnChange: func(namespace, group, dataId, data string) {
			logger.Info("[nacos] config changed", zap.String("group", group), zap.String("dataId", dataId))
			s.update(data)
			if onChange != nil {
				onChange(data)
			}
		},
	})
	return errors.Wrap(err, "nacos listen config")
}

func (s *Source) Stop() error {
	return s.cli.CancelListenConfig(vo.ConfigParam{DataId: s.dataID, Group: s.group})
}

func (s *Source) update(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = data
}

func (s *Source) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
