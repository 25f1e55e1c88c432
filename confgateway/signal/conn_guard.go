package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskhive/realtime/internal/jsonrpc"
	"github.com/taskhive/realtime/internal/log"
)

const (
	connLockTTL      = 30 * time.Second
	serverHBTTL      = 3 * time.Second
	serverHBInterval = time.Second
	redisTimeout     = 2 * time.Second
)

// ConnectionGuard enforces at most one live signaling connection per user
// across gateway instances.
type ConnectionGuard interface {
	Start(ctx context.Context) error
	Stop()
	MustHold(mctx jsonrpc.MethodContext[connContext]) (bool, error)
	Release(mctx jsonrpc.MethodContext[connContext]) error
	ServerID() string
}

var (
	// KEYS[1]: user lock key
	// ARGV[1]: lock value (serverID:connID)
	// ARGV[2]: lock TTL in milliseconds
	// ARGV[3]: server heartbeat key prefix
	// The heartbeat checked is the one of the server that OWNS the stored
	// lock, derived from the stored value. A lock held by a dead server
	// (no heartbeat) is taken over.
	luaAcquireConnLock = redis.NewScript(`
		local cur = redis.call('GET', KEYS[1])
		if cur == false then
			redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
			return 1
		end

		if cur == ARGV[1] then
			redis.call('PEXPIRE', KEYS[1], ARGV[2])
			return 1
		end

		local owner = string.match(cur, '^(.-):')
		if owner == nil or redis.call('EXISTS', ARGV[3] .. owner) == 0 then
			redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
			return 1
		end

		return 0
	`)

	// KEYS[1]: user lock key
	// ARGV[1]: lock value (serverID:connID)
	luaReleaseConnLock = redis.NewScript(`
		local cur = redis.call('GET', KEYS[1])
		if cur ~= ARGV[1] then
			return 0
		end
		redis.call('DEL', KEYS[1])
		return 1
	`)
)

type connGuardImpl struct {
	redisClient *redis.Client
	prefix      string
	serverID    string
	logger      *log.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewConnGuard(
	redisClient *redis.Client,
	redisPrefix string,
	serverID string,
	logger *log.Logger,
) ConnectionGuard {
	return &connGuardImpl{
		redisClient: redisClient,
		prefix:      redisPrefix,
		serverID:    serverID,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

func (g *connGuardImpl) userKey(userID string) string {
	return fmt.Sprintf("%s:u:%s", g.prefix, userID)
}

func (g *connGuardImpl) serverKeyPrefix() string {
	return fmt.Sprintf("%s:s:", g.prefix)
}

func (g *connGuardImpl) serverKey() string {
	return g.serverKeyPrefix() + g.serverID
}

func (g *connGuardImpl) lockValue(connID string) string {
	return fmt.Sprintf("%s:%s", g.serverID, connID)
}

func (g *connGuardImpl) ServerID() string {
	return g.serverID
}

// MustHold acquires (or refreshes) the caller's user lock. When another
// live connection holds it, the peer is closed and false is returned.
func (g *connGuardImpl) MustHold(mctx jsonrpc.MethodContext[connContext]) (bool, error) {
	cc := mctx.Get()

	g.logger.Debug("Acquiring connection lock",
		log.String("userId", cc.userID),
		log.String("connId", cc.connID),
		log.String("serverId", g.serverID))

	result, err := luaAcquireConnLock.Run(
		cc.reqCtx,
		g.redisClient,
		[]string{g.userKey(cc.userID)},
		g.lockValue(cc.connID),
		connLockTTL.Milliseconds(),
		g.serverKeyPrefix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("fail to acquire lock: %w", err)
	}
	if result == 1 {
		return true, nil
	}

	_ = mctx.Peer().Close()
	g.logger.Info("Connection rejected, user already connected",
		log.String("connId", cc.connID),
		log.String("userId", cc.userID))
	return false, nil
}

// Release drops the caller's user lock if this connection still owns it.
func (g *connGuardImpl) Release(mctx jsonrpc.MethodContext[connContext]) error {
	cc := mctx.Get()

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	_, err := luaReleaseConnLock.Run(
		ctx,
		g.redisClient,
		[]string{g.userKey(cc.userID)},
		g.lockValue(cc.connID),
	).Int()
	if err != nil {
		return fmt.Errorf("fail to release lock: %w", err)
	}
	return nil
}

func (g *connGuardImpl) Start(ctx context.Context) error {
	g.logger.Info("Starting server heartbeat", log.String("serverId", g.serverID))

	if err := g.setHeartbeat(ctx); err != nil {
		return fmt.Errorf("failed to set initial heartbeat: %w", err)
	}

	g.wg.Add(1)
	go g.heartbeatLoop()

	return nil
}

func (g *connGuardImpl) Stop() {
	g.logger.Info("Stopping server heartbeat", log.String("serverId", g.serverID))
	close(g.stopCh)
	g.wg.Wait()
}

func (g *connGuardImpl) setHeartbeat(ctx context.Context) error {
	return g.redisClient.Set(ctx, g.serverKey(), "1", serverHBTTL).Err()
}

func (g *connGuardImpl) heartbeatLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(serverHBInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
			defer cancel()
			g.redisClient.Del(ctx, g.serverKey())
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
			if err := g.setHeartbeat(ctx); err != nil {
				g.logger.Error("Failed to extend server heartbeat", log.Error(err))
			}
			cancel()
		}
	}
}
