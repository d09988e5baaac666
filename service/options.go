package service

import (
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

// TickerFunc starts a periodic tick source and returns its channel and a stop function
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Option configures an AuthFlow
type Option func(*AuthFlow)

// WithSettings overrides the OTP length and resend cooldown
func WithSettings(settings core.Settings) Option {
	return func(f *AuthFlow) { f.settings = settings }
}

// WithCodeVerifier enables server-side code verification
func WithCodeVerifier(verifier ports.CodeVerifier) Option {
	return func(f *AuthFlow) { f.codes = verifier }
}

// WithEvents publishes session events
func WithEvents(events ports.EventPublisher) Option {
	return func(f *AuthFlow) { f.events = events }
}

// WithTicker replaces the one-second cooldown ticker
func WithTicker(ticker TickerFunc) Option {
	return func(f *AuthFlow) { f.ticker = ticker }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(f *AuthFlow) { f.now = now }
}

// WithLogger replaces the component logger
func WithLogger(logger log.Logger) Option {
	return func(f *AuthFlow) { f.logger = logger }
}

// PipelineOption configures a TransactionPipeline
type PipelineOption func(*TransactionPipeline)

// WithNetwork sets the network used for explorer links and wallet info
func WithNetwork(network core.Network) PipelineOption {
	return func(p *TransactionPipeline) { p.network = network }
}

// WithPipelineEvents publishes transaction events
func WithPipelineEvents(events ports.EventPublisher) PipelineOption {
	return func(p *TransactionPipeline) { p.events = events }
}

// WithPipelineLogger replaces the component logger
func WithPipelineLogger(logger log.Logger) PipelineOption {
	return func(p *TransactionPipeline) { p.logger = logger }
}
