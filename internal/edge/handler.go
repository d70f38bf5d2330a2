package edge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/dunamismax/pixeledge/internal/domain"
	"github.com/dunamismax/pixeledge/internal/params"
	"github.com/dunamismax/pixeledge/internal/pipeline"
	"github.com/dunamismax/pixeledge/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Stage string

const (
	StagePassThrough Stage = "pass_through"
	StageParams      Stage = "params"
	StageOriginFetch Stage = "origin_fetch"
	StageProbe       Stage = "probe"
	StageTransform   Stage = "transform"
	StagePanic       Stage = "panic"
	StageTransformed Stage = "transformed"
)

// StageError records which step of miss handling failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	PutObject(ctx context.Context, objectKey string, obj storage.Object) (storage.PutResult, error)
}

type Engine interface {
	Resolve(ctx context.Context, source []byte, p params.Params) (pipeline.Options, error)
	Transform(ctx context.Context, source []byte, opts pipeline.Options) (pipeline.Output, error)
}

type VariantRecorder interface {
	RecordVariant(ctx context.Context, variant domain.Variant) error
}

type Config struct {
	Region      string
	CachePrefix string
	MaxAge      time.Duration
}

// CacheWrite is the outcome of the best-effort cache write. It only decides
// whether the response carries Etag and Last-Modified.
type CacheWrite struct {
	ETag string
	Err  error

	stored bool
}

func NewCacheWrite(etag string, err error) CacheWrite {
	return CacheWrite{ETag: etag, Err: err, stored: err == nil}
}

func (w CacheWrite) Stored() bool {
	return w.stored
}

// Resolution is everything derived from the request before storage is touched.
type Resolution struct {
	URI         string
	OriginalKey string
	CacheKey    string
	Params      params.Params
}

type Outcome struct {
	Stage       Stage
	Err         error
	URI         string
	OriginalKey string
	CacheKey    string
	Format      string
	Bytes       int
	Write       CacheWrite
	Duration    time.Duration
}

func (o Outcome) Transformed() bool {
	return o.Stage == StageTransformed
}

type variant struct {
	res    Resolution
	output pipeline.Output
	write  CacheWrite
}

// Handler serves origin-response events: for a 404/403 from the origin it
// builds the requested variant from the original object, caches it and
// returns it; on any failure it returns the upstream response unchanged.
type Handler struct {
	logger      *log.Logger
	store       ObjectStore
	engine      Engine
	recorder    VariantRecorder
	region      string
	cachePrefix string
	maxAge      time.Duration
	now         func() time.Time
	tracer      trace.Tracer
}

func NewHandler(logger *log.Logger, store ObjectStore, engine Engine, recorder VariantRecorder, cfg Config) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = params.DefaultCachePrefix
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}

	return &Handler{
		logger:      logger,
		store:       store,
		engine:      engine,
		recorder:    recorder,
		region:      cfg.Region,
		cachePrefix: cfg.CachePrefix,
		maxAge:      cfg.MaxAge,
		now:         time.Now,
		tracer:      otel.Tracer("pixeledge/edge"),
	}
}

func missStatus(status string) bool {
	switch strings.TrimSpace(status) {
	case "404", "403":
		return true
	default:
		return false
	}
}

// Resolve derives parameters and storage keys for a request. A URI that
// already ends in a parameter segment is decoded as-is; otherwise the segment
// is built from the query string first.
func (h *Handler) Resolve(req Request) (Resolution, error) {
	uri := req.URI

	var p params.Params
	if last := params.LastSegment(uri); params.IsSegment(last) {
		p = params.Parse(last)
	} else {
		segment := params.Canonical(req.QueryValues(), uri)
		uri = uri + "/" + segment
		p = params.Parse(segment)
	}

	res := Resolution{
		URI:      uri,
		CacheKey: params.CacheKey(h.cachePrefix, uri),
		Params:   p,
	}

	key, err := params.OriginalKey(uri)
	if err != nil {
		return res, err
	}
	res.OriginalKey = key
	return res, nil
}

func (h *Handler) Handle(ctx context.Context, req Request, upstream Response) (resp Response, outcome Outcome) {
	startedAt := h.now()
	resp = annotate(upstream, h.region)
	if !missStatus(upstream.Status) {
		return resp, Outcome{Stage: StagePassThrough, URI: req.URI}
	}

	ctx, span := h.tracer.Start(ctx, "edge.miss")
	span.SetAttributes(
		attribute.String("edge.uri", req.URI),
		attribute.String("edge.upstream_status", upstream.Status),
	)
	defer span.End()

	fallback := resp
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("recovered panic: %v", r)
			h.logger.Printf("miss handling panicked uri=%s err=%v", req.URI, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			resp = fallback
			outcome = Outcome{Stage: StagePanic, Err: err, URI: req.URI, Duration: h.now().Sub(startedAt)}
		}
	}()

	v, err := h.generate(ctx, req)
	outcome = Outcome{
		URI:         v.res.URI,
		OriginalKey: v.res.OriginalKey,
		CacheKey:    v.res.CacheKey,
	}
	if err != nil {
		outcome.Stage = stageOf(err)
		outcome.Err = err
		outcome.Duration = h.now().Sub(startedAt)
		h.logger.Printf("miss handling failed stage=%s uri=%s err=%v", outcome.Stage, req.URI, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome.Stage))
		return resp, outcome
	}

	outcome.Stage = StageTransformed
	outcome.Format = v.output.Format
	outcome.Bytes = len(v.output.Data)
	outcome.Write = v.write
	outcome.Duration = h.now().Sub(startedAt)

	span.SetAttributes(
		attribute.String("edge.cache_key", v.res.CacheKey),
		attribute.String("edge.format", v.output.Format),
		attribute.Bool("edge.cached", v.write.Stored()),
	)
	span.SetStatus(codes.Ok, "transformed")

	return assembleSuccess(resp, v, h.maxAge, h.now()), outcome
}

func (h *Handler) generate(ctx context.Context, req Request) (variant, error) {
	res, err := h.Resolve(req)
	v := variant{res: res}
	if err != nil {
		return v, &StageError{Stage: StageParams, Err: err}
	}

	source, err := h.fetchOriginal(ctx, res.OriginalKey)
	if err != nil {
		return v, &StageError{Stage: StageOriginFetch, Err: err}
	}

	opts, err := h.engine.Resolve(ctx, source, res.Params)
	if err != nil {
		return v, &StageError{Stage: StageProbe, Err: err}
	}

	out, err := h.transform(ctx, source, opts)
	if err != nil {
		return v, &StageError{Stage: StageTransform, Err: err}
	}
	v.output = out

	v.write = h.writeCache(ctx, res.CacheKey, out)
	if v.write.Stored() {
		h.record(ctx, v)
	}
	return v, nil
}

func (h *Handler) fetchOriginal(ctx context.Context, key string) ([]byte, error) {
	ctx, span := h.tracer.Start(ctx, "edge.origin_fetch")
	defer span.End()
	span.SetAttributes(attribute.String("edge.original_key", key))

	data, err := h.store.ReadObject(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("edge.original_bytes", len(data)))
	return data, nil
}

func (h *Handler) transform(ctx context.Context, source []byte, opts pipeline.Options) (pipeline.Output, error) {
	ctx, span := h.tracer.Start(ctx, "edge.transform")
	defer span.End()
	span.SetAttributes(
		attribute.Int("image.width", opts.Width),
		attribute.Int("image.height", opts.Height),
		attribute.Int("image.quality", opts.Quality),
		attribute.String("image.format", opts.Format),
	)

	out, err := h.engine.Transform(ctx, source, opts)
	if err != nil {
		span.RecordError(err)
		return pipeline.Output{}, err
	}
	return out, nil
}

func (h *Handler) writeCache(ctx context.Context, key string, out pipeline.Output) CacheWrite {
	ctx, span := h.tracer.Start(ctx, "edge.cache_write")
	defer span.End()
	span.SetAttributes(attribute.String("edge.cache_key", key))

	result, err := h.store.PutObject(ctx, key, storage.Object{
		Data:         out.Data,
		ContentType:  out.ContentType,
		CacheControl: cacheControl(h.maxAge),
	})
	if err != nil {
		h.logger.Printf("cache write failed cache_key=%s err=%v", key, err)
		span.RecordError(err)
		return NewCacheWrite("", err)
	}
	return NewCacheWrite(result.ETag, nil)
}

func (h *Handler) record(ctx context.Context, v variant) {
	if h.recorder == nil {
		return
	}

	err := h.recorder.RecordVariant(ctx, domain.Variant{
		CacheKey:    v.res.CacheKey,
		OriginalKey: v.res.OriginalKey,
		Format:      v.output.Format,
		ContentType: v.output.ContentType,
		Width:       v.output.Width,
		Height:      v.output.Height,
		Bytes:       len(v.output.Data),
		ETag:        v.write.ETag,
		CreatedAt:   h.now().UTC(),
	})
	if err != nil {
		h.logger.Printf("variant ledger write failed cache_key=%s err=%v", v.res.CacheKey, err)
	}
}

func stageOf(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return StageTransform
}
