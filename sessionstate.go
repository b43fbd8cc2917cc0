package sessionstate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/sessionstate/internal/logging"
	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/expiry"
	"github.com/aretw0/sessionstate/pkg/observability"
	"github.com/aretw0/sessionstate/pkg/ports"
	"github.com/aretw0/sessionstate/pkg/versioning"
)

// Provider is the entry point hosts call on every request.
// It wraps a ports.SessionStore, keeps version tags honest on every read path and
// reports session ends the store itself cannot push.
type Provider struct {
	store     ports.SessionStore
	tagger    *versioning.Tagger
	sanitizer *versioning.Sanitizer
	tracker   *expiry.Tracker // set by WithTracker; nil means the process-wide tracker
	handler   *expiry.Handler
	notifier  *expiry.Notifier
	closer    io.Closer

	source          versioning.Source
	defaultTimeout  time.Duration
	requestTimeout  time.Duration
	guard           time.Duration
	pollingInterval time.Duration
	capacity        uint64
	expiryDisabled  bool
	logger          *slog.Logger
	metrics         *observability.Metrics
}

// Option defines a functional option for configuring the Provider.
type Option func(*Provider)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithMetrics records sanitization and expiry outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Provider) {
		p.metrics = m
	}
}

// WithTagger uses an already resolved tagger.
func WithTagger(t *versioning.Tagger) Option {
	return func(p *Provider) {
		p.tagger = t
	}
}

// WithVersionSource selects how the current version is resolved (default: versioning.Auto).
func WithVersionSource(src versioning.Source) Option {
	return func(p *Provider) {
		p.source = src
	}
}

// WithTracker uses t instead of the process-wide tracker. The caller closes t.
func WithTracker(t *expiry.Tracker) Option {
	return func(p *Provider) {
		p.tracker = t
	}
}

// WithoutExpiry disables local expiry prediction.
func WithoutExpiry() Option {
	return func(p *Provider) {
		p.expiryDisabled = true
	}
}

// WithDefaultTimeout sets the timeout used when the host supplies none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.defaultTimeout = d
		}
	}
}

// WithRequestTimeout bounds each expiry reconciliation.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.requestTimeout = d
		}
	}
}

// WithGuard sets the store TTL under which a locally expired session is confirmed.
func WithGuard(d time.Duration) Option {
	return func(p *Provider) {
		if d >= 0 {
			p.guard = d
		}
	}
}

// WithPollingInterval sets the collection interval of the process-wide tracker.
// A different interval than the installed tracker's replaces it when the provider is built;
// providers created earlier follow the replacement.
func WithPollingInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.pollingInterval = d
		}
	}
}

// WithCapacity bounds the process-wide tracker when this provider creates or replaces it.
func WithCapacity(n uint64) Option {
	return func(p *Provider) {
		p.capacity = n
	}
}

// New creates a Provider over store.
func New(store ports.SessionStore, opts ...Option) (*Provider, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: a session store is required", domain.ErrInvalidConfig)
	}
	p := &Provider{
		store:           store,
		source:          versioning.Auto(""),
		defaultTimeout:  domain.DefaultTimeout,
		requestTimeout:  expiry.DefaultRequestTimeout,
		guard:           expiry.DefaultGuard,
		pollingInterval: expiry.DefaultPollingInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewNop()
	}

	if p.tagger == nil {
		p.tagger = versioning.NewTagger(p.source)
	}
	if p.tagger.FellBack() {
		p.logger.Debug("Version resolution failed, using fallback",
			"source", p.tagger.Kind().String(),
			"version", p.tagger.Version(),
		)
	}
	p.sanitizer = versioning.NewSanitizer(store, p.tagger,
		versioning.WithLogger(p.logger),
		versioning.WithMetrics(p.metrics),
	)

	p.notifier = expiry.NewNotifier()
	p.handler = expiry.NewHandler(store, p.notifier,
		expiry.WithGuard(p.guard),
		expiry.WithRequestTimeout(p.requestTimeout),
		expiry.WithHandlerLogger(p.logger),
		expiry.WithHandlerMetrics(p.metrics),
	)
	if p.expiryDisabled {
		p.tracker = nil
	} else if p.tracker == nil {
		p.installTracker()
	}

	return p, nil
}

func (p *Provider) trackerOptions() []expiry.TrackerOption {
	return []expiry.TrackerOption{
		expiry.WithLogger(p.logger),
		expiry.WithMetrics(p.metrics),
		expiry.WithCapacity(p.capacity),
	}
}

// installTracker makes sure the process-wide tracker runs at this provider's interval.
func (p *Provider) installTracker() {
	current := expiry.Installed()
	switch {
	case current == nil:
		expiry.Shared(p.pollingInterval, p.trackerOptions()...)
	case current.Interval() != p.pollingInterval:
		p.logger.Warn("Replacing process-wide expiry tracker",
			"from", current.Interval(),
			"to", p.pollingInterval,
		)
		expiry.Install(p.pollingInterval, p.trackerOptions()...)
	case p.capacity > 0 || p.metrics != nil:
		p.logger.Warn("Process-wide expiry tracker already running, keeping its capacity and metrics",
			"interval", current.Interval(),
		)
	}
}

// activeTracker returns the tracker windows go to, or nil when expiry is off.
// The process-wide one is resolved on every call since another provider may replace it.
func (p *Provider) activeTracker() *expiry.Tracker {
	switch {
	case p.expiryDisabled:
		return nil
	case p.tracker != nil:
		return p.tracker
	}
	if t := expiry.Installed(); t != nil {
		return t
	}
	return expiry.Shared(p.pollingInterval, p.trackerOptions()...)
}

// Version returns the version stamped on every write.
func (p *Provider) Version() string {
	return p.tagger.Version()
}

// Tagger returns the resolved tagger.
func (p *Provider) Tagger() *versioning.Tagger {
	return p.tagger
}

// Store returns the wrapped store.
func (p *Provider) Store() ports.SessionStore {
	return p.store
}

func (p *Provider) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return p.defaultTimeout
	}
	return d
}

func (p *Provider) track(id string, timeout time.Duration) {
	if t := p.activeTracker(); t != nil {
		t.Track(id, timeout, p.handler)
	}
}

func (p *Provider) touch(id string) {
	if t := p.activeTracker(); t != nil {
		t.Touch(id, p.handler, p.defaultTimeout)
	}
}

func (p *Provider) observe(id string, res *domain.GetItemResult) {
	if res != nil && res.Record != nil {
		p.track(id, res.Record.Timeout)
	}
}

// CreateNewStoreData returns an empty record tagged with the current version.
func (p *Provider) CreateNewStoreData(timeout time.Duration) *domain.Record {
	rec := domain.NewRecord(p.timeout(timeout))
	p.tagger.Stamp(rec.Items)
	return rec
}

// CreateUninitializedItem stores an empty, version tagged record for id.
func (p *Provider) CreateUninitializedItem(ctx context.Context, id string, timeout time.Duration) error {
	timeout = p.timeout(timeout)
	items := domain.NewItems()
	p.tagger.Stamp(items)
	p.track(id, timeout)
	return p.store.CreateUninitializedItem(ctx, id, items, timeout)
}

// GetItem reads id without locking it. Data written by another version comes back cleared.
func (p *Provider) GetItem(ctx context.Context, id string) (*domain.GetItemResult, error) {
	res, err := p.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	p.observe(id, res)
	return p.sanitizer.Sanitize(ctx, id, res, false)
}

// GetItemExclusive locks and reads id. Data written by another version comes back cleared.
func (p *Provider) GetItemExclusive(ctx context.Context, id string) (*domain.GetItemResult, error) {
	res, err := p.store.GetItemExclusive(ctx, id)
	if err != nil {
		return nil, err
	}
	p.observe(id, res)
	return p.sanitizer.Sanitize(ctx, id, res, true)
}

// SetAndReleaseItemExclusive tags record with the current version, writes it and releases the lock.
func (p *Provider) SetAndReleaseItemExclusive(ctx context.Context, id string, record *domain.Record, lockID domain.LockID, newItem bool) error {
	if record == nil {
		return fmt.Errorf("cannot store a nil record for session %s", id)
	}
	if record.Items == nil {
		record.Items = domain.NewItems()
	}
	p.track(id, p.timeout(record.Timeout))
	p.tagger.Stamp(record.Items)
	return p.store.SetAndReleaseItemExclusive(ctx, id, record, lockID, newItem)
}

// ReleaseItemExclusive releases the lock without writing.
func (p *Provider) ReleaseItemExclusive(ctx context.Context, id string, lockID domain.LockID) error {
	p.touch(id)
	return p.store.ReleaseItemExclusive(ctx, id, lockID)
}

// ResetItemTimeout restarts the session expiry.
func (p *Provider) ResetItemTimeout(ctx context.Context, id string) error {
	p.touch(id)
	return p.store.ResetItemTimeout(ctx, id)
}

// RemoveItem deletes the session. Explicit removal is not reported as an expiration.
func (p *Provider) RemoveItem(ctx context.Context, id string, lockID domain.LockID) error {
	if err := p.store.RemoveItem(ctx, id, lockID); err != nil {
		return err
	}
	if t := p.activeTracker(); t != nil {
		t.Forget(id)
	}
	return nil
}

// Expirations returns the channel of session ends.
// Expirations are only reconciled once this has been called; repeated calls return the same channel.
// Each session end is delivered at most once, after its record was deleted from the store.
func (p *Provider) Expirations() <-chan domain.ExpiredSession {
	return p.notifier.Subscribe()
}

// Close stops expiry reconciliation for this provider and closes the store it created.
func (p *Provider) Close() error {
	p.handler.Close()
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}
