package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/layer-3/otpwallet/adapters/store"
	"github.com/layer-3/otpwallet/core"
)

const (
	testAddress = "0x1111111111111111111111111111111111111111"
	testKey     = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	recipient   = "0x2222222222222222222222222222222222222222"
)

type fakeVerifier struct {
	mu    sync.Mutex
	calls []string
	err   error
	gate  chan struct{}
}

func (v *fakeVerifier) Issue(ctx context.Context, email string) (string, error) {
	v.mu.Lock()
	v.calls = append(v.calls, email)
	n := len(v.calls)
	err, gate := v.err, v.gate
	v.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("verification-%d", n), nil
}

func (v *fakeVerifier) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

type fakeCodes struct {
	valid string
	err   error
}

func (c *fakeCodes) Verify(ctx context.Context, verificationID, code string) error {
	if c.err != nil {
		return c.err
	}
	if code != c.valid {
		return core.ErrInvalidToken
	}
	return nil
}

type fakeKeys struct{}

func (fakeKeys) GenerateKey(context.Context) (core.Credentials, error) {
	return core.Credentials{Address: testAddress, PrivateKey: testKey}, nil
}

// fakeTokenizer issues "token:<verification id>" tokens bound to testAddress
type fakeTokenizer struct {
	mu      sync.Mutex
	expired bool
}

func (t *fakeTokenizer) SessionToToken(session core.Session, verificationID string) (string, error) {
	return "token:" + verificationID, nil
}

func (t *fakeTokenizer) TokenToSession(token string) (*core.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !strings.HasPrefix(token, "token:") {
		return nil, core.ErrInvalidToken
	}
	if t.expired {
		return nil, core.ErrTokenExpired
	}
	return &core.Session{Address: testAddress, IssuedToken: token}, nil
}

func (t *fakeTokenizer) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expired = true
}

// manualTicker hands out channels the test drives by hand
type manualTicker struct {
	mu      sync.Mutex
	chans   []chan time.Time
	stopped int
}

func (m *manualTicker) start(time.Duration) (<-chan time.Time, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time)
	m.chans = append(m.chans, ch)
	return ch, func() {
		m.mu.Lock()
		m.stopped++
		m.mu.Unlock()
	}
}

func (m *manualTicker) current() chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chans[len(m.chans)-1]
}

func (m *manualTicker) started() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chans)
}

func (m *manualTicker) stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// tick delivers n ticks to the running cooldown
func (m *manualTicker) tick(n int) {
	ch := m.current()
	for i := 0; i < n; i++ {
		ch <- time.Now()
	}
}

type recordingEvents struct {
	mu     sync.Mutex
	topics []string
}

func (e *recordingEvents) add(topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.topics = append(e.topics, topic)
	return nil
}

func (e *recordingEvents) PublishAuthenticated(context.Context, string, string) error {
	return e.add("authenticated")
}

func (e *recordingEvents) PublishLogout(context.Context, string) error {
	return e.add("logout")
}

func (e *recordingEvents) PublishTransaction(context.Context, string, string, string, string) error {
	return e.add("transaction")
}

func (e *recordingEvents) published() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.topics...)
}

// brokenClearStore fails to clear the session
type brokenClearStore struct {
	*store.MemoryStore
}

func (brokenClearStore) Clear(context.Context) error {
	return errors.New("disk full")
}

type fakeChain struct {
	mu         sync.Mutex
	balance    decimal.Decimal
	balanceErr error
	gasPrice   *big.Int
	hash       string
	submitErr  error
	submitted  []decimal.Decimal
	keys       []string
}

func (c *fakeChain) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return c.balance, c.balanceErr
}

func (c *fakeChain) GetGasPrice(ctx context.Context) (*big.Int, error) {
	if c.gasPrice == nil {
		return nil, errors.New("rpc unavailable")
	}
	return c.gasPrice, nil
}

func (c *fakeChain) Submit(ctx context.Context, privateKey, to string, amountEth decimal.Decimal) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, amountEth)
	c.keys = append(c.keys, privateKey)
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return c.hash, nil
}

func (c *fakeChain) IsValidAddressFormat(address string) bool {
	return core.IsValidAddress(address)
}

// gatedCodes accepts every code once the gate is opened
type gatedCodes struct {
	entered chan struct{}
	gate    chan struct{}
}

func (c *gatedCodes) Verify(ctx context.Context, verificationID, code string) error {
	close(c.entered)
	<-c.gate
	return nil
}
