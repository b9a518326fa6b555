// ABOUTME: Top-level generation orchestrator: resolves mode and model, preprocesses inputs,
// ABOUTME: runs the right provider adapter, and writes the terminal state back onto the node.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/2389-research/loom/graph"
	"github.com/2389-research/loom/media"
	"github.com/2389-research/loom/provider"
	"github.com/2389-research/loom/store"
)

// ErrNodeBusy is returned when a generate call hits a node whose previous
// job has not reached a terminal state.
var ErrNodeBusy = errors.New("node already has an active job")

// ErrNoCapableModel is returned when the catalog has no model whose
// capability flags satisfy the resolved mode.
var ErrNoCapableModel = errors.New("no model supports the resolved mode")

// Fetcher downloads a parent node's hosted result for preprocessing.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// activeJob pairs the job record with the means to stop it.
type activeJob struct {
	job    *provider.Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Dispatcher orchestrates generation jobs. One job per node at a time;
// a second generate call on a busy node is rejected, never run concurrently.
type Dispatcher struct {
	graph   *graph.Graph
	catalog *graph.Catalog
	nodes   store.NodeStore
	pre     *media.Preprocessor
	poller  *provider.Poller
	maxWait time.Duration
	fetch   Fetcher
	log     zerolog.Logger

	subscribeAdapters map[string]provider.SubscribeAdapter
	taskAdapters      map[string]provider.TaskAdapter

	mu       sync.Mutex
	active   map[string]*activeJob
	progress map[string][]string
	wg       sync.WaitGroup
}

// New builds a dispatcher with adapters for every provider the config
// carries credentials for.
func New(cfg Config, g *graph.Graph, catalog *graph.Catalog, nodes store.NodeStore, logger zerolog.Logger) *Dispatcher {
	uploader := provider.NewHTTPUploader(cfg.UploadEndpoint, cfg.UploadAPIKey)

	d := &Dispatcher{
		graph:             g,
		catalog:           catalog,
		nodes:             nodes,
		pre:               media.NewPreprocessor(),
		poller:            &provider.Poller{Interval: cfg.pollInterval(), MaxWait: cfg.maxWait()},
		maxWait:           cfg.maxWait(),
		fetch:             fetchHTTP,
		log:               logger,
		subscribeAdapters: make(map[string]provider.SubscribeAdapter),
		taskAdapters:      make(map[string]provider.TaskAdapter),
		active:            make(map[string]*activeJob),
		progress:          make(map[string][]string),
	}

	if cfg.FalAPIKey != "" {
		d.subscribeAdapters["fal"] = provider.NewFalAdapter(cfg.FalAPIKey, uploader)
	}
	if cfg.OpenAIAPIKey != "" {
		d.subscribeAdapters["openai"] = provider.NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, uploader)
	}
	if cfg.KlingAccessKey != "" {
		d.taskAdapters["kling"] = provider.NewKlingAdapter(cfg.KlingAccessKey, cfg.KlingSecretKey, uploader)
	}
	return d
}

// RegisterSubscribeAdapter wires a blocking-subscribe provider by name.
func (d *Dispatcher) RegisterSubscribeAdapter(name string, a provider.SubscribeAdapter) {
	d.subscribeAdapters[name] = a
}

// RegisterTaskAdapter wires a create-task/poll provider by name.
func (d *Dispatcher) RegisterTaskAdapter(name string, a provider.TaskAdapter) {
	d.taskAdapters[name] = a
}

// SetFetcher replaces the HTTP fetcher used to download parent results.
func (d *Dispatcher) SetFetcher(f Fetcher) { d.fetch = f }

// SetPreprocessor replaces the media preprocessor.
func (d *Dispatcher) SetPreprocessor(p *media.Preprocessor) { d.pre = p }

// Generate starts a generation job for the node. Validation happens
// synchronously; the provider round-trip runs in its own goroutine so one
// node's job never blocks another's dispatch. A nil error means the job was
// accepted, not that it succeeded: the terminal state lands on the node.
func (d *Dispatcher) Generate(ctx context.Context, nodeID string) error {
	node, err := d.graph.Node(nodeID)
	if err != nil {
		return err
	}

	parents, err := d.graph.SuccessParents(nodeID)
	if err != nil {
		return err
	}

	mode, err := graph.ResolveMode(node, parents)
	if err != nil {
		return &provider.ValidationError{Message: err.Error()}
	}

	filtered := d.catalog.FilterForMode(graph.TargetKind(node.Type), mode)
	modelID, changed := graph.SelectModel(node.ModelID, filtered)
	if modelID == "" {
		return fmt.Errorf("%w: %s", ErrNoCapableModel, mode)
	}
	desc := d.catalog.Get(modelID)

	adapterSub, adapterTask, err := d.adapterFor(desc.Provider)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if _, busy := d.active[nodeID]; busy {
		d.mu.Unlock()
		return ErrNodeBusy
	}
	job := provider.NewJob(nodeID, desc.Provider)
	d.progress[nodeID] = nil
	// The wall-clock bound applies to every job shape. The poller enforces
	// its own MaxWait, but a blocking subscribe would otherwise run as long
	// as the provider keeps the stream open.
	jobCtx, cancelJob := context.WithTimeout(context.WithoutCancel(ctx), d.maxWait)
	aj := &activeJob{job: job, cancel: cancelJob, done: make(chan struct{})}
	d.active[nodeID] = aj
	d.mu.Unlock()

	loading := graph.Update{
		Status:  graph.StatusPtr(graph.StatusLoading),
		ModelID: &modelID,
	}
	if err := d.applyUpdate(nodeID, loading); err != nil {
		d.release(nodeID, aj)
		cancelJob()
		return err
	}
	if changed {
		d.log.Info().Str("node", nodeID).Str("model", modelID).
			Msg("selected model replaced by mode-capable default")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancelJob()
		defer d.release(nodeID, aj)
		d.runJob(jobCtx, node, parents, mode, *desc, job, adapterSub, adapterTask)
	}()
	return nil
}

// Cancel flags the node's active job for cooperative cancellation. The flag
// is observed at the next poll tick; an in-flight HTTP call is not aborted,
// its result is discarded. Cancelling an idle node is a no-op.
func (d *Dispatcher) Cancel(nodeID string) {
	d.mu.Lock()
	aj, ok := d.active[nodeID]
	d.mu.Unlock()
	if !ok {
		return
	}
	aj.job.Cancel()
	aj.cancel()
	d.log.Info().Str("node", nodeID).Str("job", aj.job.ID).Msg("cancellation requested")
}

// Active reports whether the node currently has a running job.
func (d *Dispatcher) Active(nodeID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[nodeID]
	return ok
}

// WaitNode blocks until the node's active job (if any) reaches a terminal
// state.
func (d *Dispatcher) WaitNode(nodeID string) {
	d.mu.Lock()
	aj, ok := d.active[nodeID]
	d.mu.Unlock()
	if ok {
		<-aj.done
	}
}

// Shutdown waits for every in-flight job to finish.
func (d *Dispatcher) Shutdown() { d.wg.Wait() }

// runJob executes one generation end to end and writes the terminal state
// back onto the node. Every error is converted here; nothing escapes to
// unrelated nodes.
func (d *Dispatcher) runJob(ctx context.Context, node *graph.Node, parents []*graph.Node,
	mode graph.Mode, desc graph.ModelDescriptor, job *provider.Job,
	sub provider.SubscribeAdapter, task provider.TaskAdapter) {

	log := d.log.With().Str("node", node.ID).Str("job", job.ID).
		Str("provider", desc.Provider).Str("mode", string(mode)).Logger()

	req, err := d.buildRequest(ctx, node, parents, mode, desc)
	if err != nil {
		d.finish(node.ID, node.AspectRatio, job, nil, err, log)
		return
	}

	var outcome *provider.Outcome
	if sub != nil {
		lastStatus := ""
		outcome, err = sub.Subscribe(ctx, req, func(p provider.Progress) {
			if p.Status == lastStatus {
				return
			}
			lastStatus = p.Status
			d.recordProgress(node.ID, p.Status)
			log.Debug().Str("status", p.Status).Msg("progress")
		})
	} else {
		outcome, err = d.poller.Run(ctx, task, req, job, func(s provider.JobState) {
			d.recordProgress(node.ID, string(s))
			log.Debug().Str("state", string(s)).Msg("job transition")
		})
	}

	// A context cancelled by Cancel surfaces as the user's intent, not a
	// provider failure. A deadline hit on the job context is a timeout.
	switch {
	case err != nil && job.Cancelled():
		err = &provider.CancelledError{}
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		var terr *provider.TimeoutError
		if !errors.As(err, &terr) {
			err = &provider.TimeoutError{Elapsed: d.maxWait}
		}
		job.State = provider.JobTimedOut
	}
	d.finish(node.ID, node.AspectRatio, job, outcome, err, log)
}

// finish maps the job result onto the node's terminal state: Success with
// result URLs, Idle for user cancellation, Error with a message otherwise.
func (d *Dispatcher) finish(nodeID, aspectRatio string, job *provider.Job, outcome *provider.Outcome, err error, log zerolog.Logger) {
	var update graph.Update
	switch {
	case err == nil:
		if !job.State.Terminal() {
			job.State = provider.JobSucceeded
		}
		update = graph.Update{
			Status:            graph.StatusPtr(graph.StatusSuccess),
			ResultURL:         &outcome.ResultURL,
			ResultURLs:        resultURLs(outcome),
			ResultAspectRatio: graph.StrPtr(aspectRatio),
			ErrorMessage:      graph.StrPtr(""),
		}
		log.Info().Str("result_url", outcome.ResultURL).Msg("generation succeeded")

	case isCancelled(err):
		job.State = provider.JobCancelled
		update = graph.Update{
			Status:       graph.StatusPtr(graph.StatusIdle),
			ErrorMessage: graph.StrPtr(""),
		}
		log.Info().Msg("generation cancelled")

	default:
		if !job.State.Terminal() {
			job.State = provider.JobFailed
		}
		update = graph.Update{
			Status:       graph.StatusPtr(graph.StatusError),
			ErrorMessage: graph.StrPtr(err.Error()),
		}
		log.Error().Err(err).Msg("generation failed")
	}

	if err := d.applyUpdate(nodeID, update); err != nil {
		log.Error().Err(err).Msg("terminal state write-back failed")
	}
}

// buildRequest assembles the provider request: inputs from Success parents
// with mode-appropriate roles, images normalized through the preprocessor.
func (d *Dispatcher) buildRequest(ctx context.Context, node *graph.Node, parents []*graph.Node,
	mode graph.Mode, desc graph.ModelDescriptor) (provider.Request, error) {

	req := provider.Request{
		ModelID:     desc.ID,
		Mode:        string(mode),
		Prompt:      node.Prompt,
		AspectRatio: node.AspectRatio,
		Resolution:  node.Resolution,
		Duration:    node.VideoDuration,
		VideoMode:   node.VideoMode,
		NumOutputs:  node.VariationCount,
	}

	roles, err := inputRoles(node, parents, mode)
	if err != nil {
		return provider.Request{}, err
	}

	for _, p := range parents {
		if p.ResultURL == "" {
			return provider.Request{}, &provider.ValidationError{
				Message: fmt.Sprintf("parent %s has no result to use as input", p.ID),
			}
		}
		in := provider.Input{
			URL:  p.ResultURL,
			Role: roles[p.ID],
			Kind: provider.InputImage,
		}
		if p.Type.ProducesVideo() {
			in.Kind = provider.InputVideo
		}
		// Locally uploaded media arrives as a data URI rather than a
		// hosted URL; decode it here so the adapter re-uploads the bytes.
		if media.IsDataURI(in.URL) {
			data, mime, err := media.ParseDataURI(in.URL)
			if err != nil {
				return provider.Request{}, &provider.ValidationError{
					Message: fmt.Sprintf("parent %s result is a malformed data URI: %v", p.ID, err),
				}
			}
			in.Data, in.Mime, in.URL = data, mime, ""
		}
		if in.Kind == provider.InputImage {
			if err := d.normalizeInput(ctx, &in); err != nil {
				return provider.Request{}, err
			}
		}
		req.Inputs = append(req.Inputs, in)
	}
	return req, nil
}

// normalizeInput downloads the image and runs it through the preprocessor.
// An unchanged payload keeps its hosted URL; a shrunk one drops it so the
// adapter re-uploads the normalized bytes.
func (d *Dispatcher) normalizeInput(ctx context.Context, in *provider.Input) error {
	data := in.Data
	if data == nil {
		fetched, err := d.fetch(ctx, in.URL)
		if err != nil {
			return &provider.UploadError{Message: "fetching input media", Cause: err}
		}
		data = fetched
	}
	normalized, err := d.pre.Normalize(data, media.KindImage)
	if err != nil {
		return &provider.ValidationError{Message: "input is not a decodable image: " + err.Error()}
	}
	in.Data = normalized
	if len(normalized) != len(data) {
		in.Mime = "image/jpeg"
		in.URL = ""
	}
	return nil
}

// inputRoles assigns a provider role to each parent according to the mode.
func inputRoles(node *graph.Node, parents []*graph.Node, mode graph.Mode) (map[string]provider.InputRole, error) {
	roles := make(map[string]provider.InputRole, len(parents))
	for _, p := range parents {
		roles[p.ID] = provider.RoleReference
	}

	switch mode {
	case graph.ModeFrameToFrame:
		pair, err := graph.ResolveFramePair(node, parents)
		if err != nil {
			return nil, &provider.ValidationError{Message: err.Error()}
		}
		roles[pair.StartID] = provider.RoleStartFrame
		roles[pair.EndID] = provider.RoleEndFrame

	case graph.ModeMotionControl:
		for _, p := range parents {
			if p.Type.ProducesVideo() {
				roles[p.ID] = provider.RoleMotion
			}
		}

	case graph.ModeExtend:
		for _, p := range parents {
			if p.Type.ProducesVideo() {
				roles[p.ID] = provider.RoleSource
			}
		}
	}
	return roles, nil
}

// adapterFor resolves the provider name to one of the two adapter shapes.
func (d *Dispatcher) adapterFor(name string) (provider.SubscribeAdapter, provider.TaskAdapter, error) {
	if a, ok := d.subscribeAdapters[name]; ok {
		return a, nil, nil
	}
	if a, ok := d.taskAdapters[name]; ok {
		return nil, a, nil
	}
	return nil, nil, fmt.Errorf("no adapter configured for provider %q", name)
}

// applyUpdate writes the update to the live graph and persists the result.
func (d *Dispatcher) applyUpdate(nodeID string, u graph.Update) error {
	n, err := d.graph.Apply(nodeID, u)
	if err != nil {
		return err
	}
	if d.nodes != nil {
		return d.nodes.SaveNode(n)
	}
	return nil
}

// recordProgress appends a status line to the node's job log.
func (d *Dispatcher) recordProgress(nodeID, status string) {
	d.mu.Lock()
	d.progress[nodeID] = append(d.progress[nodeID], status)
	d.mu.Unlock()
}

// Progress returns the status lines observed during the node's most recent
// job, oldest first.
func (d *Dispatcher) Progress(nodeID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.progress[nodeID]...)
}

// release removes the node's active-job entry and signals waiters.
func (d *Dispatcher) release(nodeID string, aj *activeJob) {
	d.mu.Lock()
	delete(d.active, nodeID)
	d.mu.Unlock()
	close(aj.done)
}

func isCancelled(err error) bool {
	var cerr *provider.CancelledError
	return errors.As(err, &cerr) || errors.Is(err, context.Canceled)
}

func resultURLs(o *provider.Outcome) []string {
	if len(o.ResultURLs) > 0 {
		return o.ResultURLs
	}
	return []string{o.ResultURL}
}

// fetchHTTP is the default fetcher for parent results.
func fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
