package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"PChat/service/nacos"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  addr: ":9000"
  gateway:
    pingInterval: 20s
    manager:
      heartbeatTimeout: 45s
redis:
  addrs: ["10.0.0.1:6379", "10.0.0.2:6379"]
auth:
  secret: file-secret
queue:
  normalWorkers: 4
  retryBase: 500ms
presence:
  typingTTL: 8s
backends:
  state: redis
  seed:
    users:
      - {id: alice, name: Alice}
      - {id: bob, name: Bob, avatarUrl: "https://cdn/b.png"}
    conversations:
      - {id: c1, participants: [alice, bob]}
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "pchat.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaults(t *testing.T) {
	cfg, err := Loader{Environ: map[string]string{}}.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1, cfg.Queue.HighWorkers)
	assert.Equal(t, 2, cfg.Queue.NormalWorkers)
	assert.Equal(t, 30*time.Second, cfg.Queue.DeadLetterSweep)
	assert.Equal(t, BackendMemory, cfg.Backends.State)
	assert.Error(t, cfg.Validate(), "secret is required")
}

func TestFileThenEnv(t *testing.T) {
	cfg, err := Loader{
		File: writeFile(t, sample),
		Environ: map[string]string{
			"PCHAT_AUTH_SECRET":                         "env-secret",
			"PCHAT_QUEUE_MAX_RETRIES":                   "5",
			"PCHAT_SERVER_GATEWAY_MANAGER_MAX_PER_USER": "3",
		},
	}.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 20*time.Second, cfg.Server.Gateway.PingInterval)
	assert.Equal(t, 45*time.Second, cfg.Server.Gateway.Manager.HeartbeatTimeout)
	assert.Equal(t, 3, cfg.Server.Gateway.Manager.MaxPerUser)
	assert.Equal(t, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, "env-secret", cfg.Auth.Secret)
	assert.Equal(t, 4, cfg.Queue.NormalWorkers)
	assert.Equal(t, 1, cfg.Queue.HighWorkers) // 默认值保留
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.RetryBase)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 8*time.Second, cfg.Presence.TypingTTL)
	assert.Equal(t, BackendRedis, cfg.Backends.State)

	require.Len(t, cfg.Backends.Seed.Users, 2)
	assert.Equal(t, "https://cdn/b.png", cfg.Backends.Seed.Users[1].AvatarURL)
	require.Len(t, cfg.Backends.Seed.Conversations, 1)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Backends.Seed.Conversations[0].Participants)
	require.NoError(t, cfg.Validate())
}

func TestUnknownKeyRejected(t *testing.T) {
	_, err := Loader{File: writeFile(t, "queue:\n  maxRetry: 3\n"), Environ: map[string]string{}}.Load()
	assert.Error(t, err)
}

func TestRemoteOverridesFile(t *testing.T) {
	var got nacos.Config
	cfg, err := Loader{
		File: writeFile(t, sample),
		Environ: map[string]string{
			"PCHAT_NACOS_SERVERS": "127.0.0.1:8848",
			"PCHAT_SERVER_ADDR":   ":7000",
		},
		Remote: func(c nacos.Config) (string, error) {
			got = c
			return "server:\n  addr: \":9100\"\npush:\n  backend: nats\n  nats:\n    servers: [\"nats://n1:4222\"]\n", nil
		},
	}.Load()
	require.NoError(t, err)
	assert.Equal(t, "pchat.yaml", got.DataID)
	assert.Equal(t, PushNats, cfg.Push.Backend)
	assert.Equal(t, []string{"nats://n1:4222"}, cfg.Push.Nats.Servers)
	assert.Equal(t, ":7000", cfg.Server.Addr) // env 最后生效
	require.NoError(t, cfg.Validate())
}

func TestRemoteSkippedWhenDisabled(t *testing.T) {
	called := false
	_, err := Loader{
		Environ: map[string]string{},
		Remote: func(nacos.Config) (string, error) {
			called = true
			return "", errors.New("unreachable")
		},
	}.Load()
	require.NoError(t, err)
	assert.False(t, called)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = "s"
	require.NoError(t, cfg.Validate())

	cfg.Backends.Repo = BackendPostgres
	assert.ErrorContains(t, cfg.Validate(), "postgres.url")
	cfg.Postgres.URL = "postgres://localhost/pchat"
	require.NoError(t, cfg.Validate())

	cfg.Push.Backend = PushKafka
	cfg.Push.Kafka.Brokers = nil
	assert.ErrorContains(t, cfg.Validate(), "brokers")

	cfg.Push.Backend = "apns"
	assert.Error(t, cfg.Validate())
}
