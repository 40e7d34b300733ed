// Package dispatcher drives one sync job at a time through the full
// per-job state machine (spec §4.7): claim, validate mirrors, decide
// full vs incremental, parse and import each epoch in chunks, thread,
// persist, and checkpoint. It is the glue between queue, gitsource,
// parser, importer, cache, and threader; none of those packages know
// about each other.
package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/config"
	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
	"github.com/ignite/sparkpost-monitor/internal/sync/cache"
	"github.com/ignite/sparkpost-monitor/internal/sync/errs"
	"github.com/ignite/sparkpost-monitor/internal/sync/gitsource"
	"github.com/ignite/sparkpost-monitor/internal/sync/importer"
	"github.com/ignite/sparkpost-monitor/internal/sync/notify"
	"github.com/ignite/sparkpost-monitor/internal/sync/parser"
	"github.com/ignite/sparkpost-monitor/internal/sync/queue"
	"github.com/ignite/sparkpost-monitor/internal/sync/threader"
)

// gitSource is the slice of *gitsource.Source the dispatcher needs.
// Accepting the interface rather than the concrete type lets tests
// exercise the full state machine against an in-memory fake instead of
// real git mirrors on disk.
type gitSource interface {
	ValidateMirrors(slug string, epochs []int) error
	ListCommits(slug string, epoch int, since string) ([]gitsource.CommitRef, error)
	ReadBlob(slug string, epoch int, commitHash string) ([]byte, error)
}

// Dispatcher owns the per-job pipeline. It holds no per-job state
// between calls to RunOnce; everything the pipeline needs travels
// through the jobRun value built at the top of process().
type Dispatcher struct {
	db       *sql.DB
	queue    *queue.Queue
	git      gitSource
	cache    CacheConfig
	cfg      config.QueueConfig
	opts     threader.Options
	notifier notify.Publisher // nil is valid: no downstream event contract publisher configured
}

// CacheConfig is the subset of config.CacheConfig the dispatcher needs;
// kept as its own type so tests can construct a Dispatcher without
// pulling in the S3 SDK.
type CacheConfig struct {
	BasePath string
	Mirror   cache.BlobStore // nil if no S3 mirror configured
}

func New(db *sql.DB, q *queue.Queue, git gitSource, cacheCfg CacheConfig, cfg config.QueueConfig, opts threader.Options) *Dispatcher {
	return &Dispatcher{db: db, queue: q, git: git, cache: cacheCfg, cfg: cfg, opts: opts}
}

// WithNotifier attaches a downstream event contract publisher (spec
// §6); returns d for chaining at construction time. Never required: a
// Dispatcher with no notifier just skips the publish step.
func (d *Dispatcher) WithNotifier(n notify.Publisher) *Dispatcher {
	d.notifier = n
	return d
}

// jobRun holds everything one call to process() threads through its
// phases. Building it once up front keeps the phase functions' argument
// lists short.
type jobRun struct {
	job     *domain.SyncJob
	slug    string
	repos   []domain.MailingListRepository
	full    bool
	epochs  []domain.MailingListRepository // the epochs this run will touch, ascending
	cache   *cache.Cache
	metrics domain.JobMetrics

	checkpoints map[int]string // epoch -> last commit hash, staged until the job completes
	newEmailIDs []int32        // accumulated across epochs, for incremental re-threading

	changedThreadIDs []int32 // written by thread(), published via notifier on success (spec §6)
	changedAuthorIDs []int32 // written by finish(), published via notifier on success (spec §6)
}

// RunOnce claims and fully processes at most one job. ok is false when
// the queue had nothing claimable.
func (d *Dispatcher) RunOnce(ctx context.Context) (ok bool, err error) {
	job, err := d.queue.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("claim next job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	logger.Info("dispatcher claimed job", "job_id", job.ID, "mailing_list_id", job.MailingListID)

	if err := d.process(ctx, job); err != nil {
		if errs.Is(err, errs.CancelledByUser) {
			logger.Info("dispatcher job cancelled", "job_id", job.ID, "error", err)
			return true, nil
		}
		logger.Error("dispatcher job failed", "job_id", job.ID, "error", err)
		if failErr := d.queue.Fail(ctx, job.ID, err.Error()); failErr != nil {
			return true, fmt.Errorf("job %s failed (%v) and marking it failed also errored: %w", job.ID, err, failErr)
		}
		return true, nil
	}

	logger.Info("dispatcher job completed", "job_id", job.ID)
	return true, nil
}

// process runs the full state machine for one claimed job (spec §4.7).
func (d *Dispatcher) process(ctx context.Context, job *domain.SyncJob) error {
	run := &jobRun{job: job, checkpoints: make(map[int]string)}

	if err := d.loadMailingList(ctx, run); err != nil {
		return err
	}
	if err := d.git.ValidateMirrors(run.slug, epochNumbers(run.repos)); err != nil {
		return fmt.Errorf("validate mirrors for list %d: %w", job.MailingListID, err)
	}
	d.decideMode(run)
	if err := d.initCache(ctx, run); err != nil {
		return err
	}

	run.metrics.EpochsTotal = len(run.epochs)
	if err := d.queue.UpdateMetrics(ctx, job.ID, run.metrics); err != nil {
		return fmt.Errorf("record epoch count for job %s: %w", job.ID, err)
	}

	for _, repo := range run.epochs {
		if err := d.checkCancelled(ctx, run); err != nil {
			return err
		}
		if err := d.runEpoch(ctx, run, repo); err != nil {
			return err
		}
		run.metrics.EpochsDone++
		if err := d.queue.UpdateMetrics(ctx, job.ID, run.metrics); err != nil {
			return fmt.Errorf("record epoch progress for job %s: %w", job.ID, err)
		}
	}

	if err := d.checkCancelled(ctx, run); err != nil {
		return err
	}
	if err := d.thread(ctx, run); err != nil {
		return err
	}

	if err := d.finish(ctx, run); err != nil {
		return err
	}
	if err := d.queue.Complete(ctx, job.ID); err != nil {
		return err
	}

	if d.notifier != nil {
		d.notifier.Publish(ctx, notify.ChangeEvent{
			MailingListID: job.MailingListID,
			JobID:         job.ID.String(),
			ThreadIDs:     run.changedThreadIDs,
			AuthorIDs:     run.changedAuthorIDs,
		})
	}
	return nil
}

// loadMailingList fetches the list's slug and every repository (epoch)
// row it owns.
func (d *Dispatcher) loadMailingList(ctx context.Context, run *jobRun) error {
	err := d.db.QueryRowContext(ctx, `SELECT slug FROM mailing_lists WHERE id = $1`, run.job.MailingListID).Scan(&run.slug)
	if err != nil {
		return fmt.Errorf("load mailing list %d: %w", run.job.MailingListID, err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, mailing_list_id, epoch, remote_url, last_indexed_commit
		FROM mailing_list_repositories
		WHERE mailing_list_id = $1
		ORDER BY epoch ASC
	`, run.job.MailingListID)
	if err != nil {
		return fmt.Errorf("load repositories for list %d: %w", run.job.MailingListID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.MailingListRepository
		if err := rows.Scan(&r.ID, &r.MailingListID, &r.Epoch, &r.RemoteURL, &r.LastIndexedCommit); err != nil {
			return fmt.Errorf("scan repository row for list %d: %w", run.job.MailingListID, err)
		}
		run.repos = append(run.repos, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate repositories for list %d: %w", run.job.MailingListID, err)
	}
	if len(run.repos) == 0 {
		return fmt.Errorf("mailing list %d has no repositories configured", run.job.MailingListID)
	}
	return nil
}

// decideMode picks full vs incremental (spec §4.7): any epoch missing a
// checkpoint forces a full run over every epoch; otherwise the run is
// incremental over just the last two epochs, newest-opened first is not
// relevant since epochs are processed ascending either way.
func (d *Dispatcher) decideMode(run *jobRun) {
	sorted := append([]domain.MailingListRepository(nil), run.repos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Epoch < sorted[j].Epoch })

	anyMissing := false
	for _, r := range sorted {
		if r.LastIndexedCommit == nil {
			anyMissing = true
			break
		}
	}

	if anyMissing {
		run.full = true
		run.epochs = sorted
		return
	}

	run.full = false
	if len(sorted) <= 2 {
		run.epochs = sorted
	} else {
		run.epochs = sorted[len(sorted)-2:]
	}
}

// initCache builds an empty cache for a full run, or loads the unified
// snapshot (mirror, then disk, then database) for an incremental one
// (spec §4.4/§4.7).
func (d *Dispatcher) initCache(ctx context.Context, run *jobRun) error {
	run.cache = cache.New(run.job.MailingListID)
	if run.full {
		return nil
	}

	ok, err := run.cache.LoadFromMirrorOrDisk(ctx, d.cache.BasePath, d.cache.Mirror)
	if err != nil {
		logger.Warn("dispatcher cache load failed, falling back to database", "mailing_list_id", run.job.MailingListID, "error", err)
	}
	if ok {
		return nil
	}
	if err := run.cache.LoadFromDatabase(ctx, d.db); err != nil {
		return fmt.Errorf("load cache from database for list %d: %w", run.job.MailingListID, err)
	}
	return nil
}

func epochNumbers(repos []domain.MailingListRepository) []int {
	out := make([]int, len(repos))
	for i, r := range repos {
		out[i] = r.Epoch
	}
	return out
}

// checkCancelled polls the queue and converts a cancelled job into
// errs.CancelledByUser (spec §5, §7).
func (d *Dispatcher) checkCancelled(ctx context.Context, run *jobRun) error {
	cancelled, err := d.queue.IsCancelled(ctx, run.job.ID)
	if err != nil {
		return fmt.Errorf("check cancellation for job %s: %w", run.job.ID, err)
	}
	if cancelled {
		return fmt.Errorf("job %s: %w", run.job.ID, errs.CancelledByUser)
	}
	return nil
}

// runEpoch lists, parses, and imports one epoch's new commits, then
// stages (but does not yet persist) its checkpoint (spec §4.7).
func (d *Dispatcher) runEpoch(ctx context.Context, run *jobRun, repo domain.MailingListRepository) error {
	since := ""
	if repo.LastIndexedCommit != nil {
		since = *repo.LastIndexedCommit
	}

	if err := d.queue.UpdatePhase(ctx, run.job.ID, domain.PhaseParsing); err != nil {
		return fmt.Errorf("set phase parsing for job %s: %w", run.job.ID, err)
	}
	commits, err := d.git.ListCommits(run.slug, repo.Epoch, since)
	if err != nil {
		return fmt.Errorf("list commits for list %d epoch %d: %w", run.job.MailingListID, repo.Epoch, err)
	}
	if len(commits) == 0 {
		return nil
	}
	run.metrics.CommitsSeen += int64(len(commits))

	records, parseErrs := d.parseAll(run.slug, repo.Epoch, commits)
	run.metrics.EmailsParsed += int64(len(records))
	run.metrics.EmailsSkipped += int64(parseErrs)

	if err := d.queue.UpdatePhase(ctx, run.job.ID, domain.PhaseImporting); err != nil {
		return fmt.Errorf("set phase importing for job %s: %w", run.job.ID, err)
	}

	chunkSize := d.cfg.ChunkSizeOrDefault()
	cancelEvery := d.cfg.CancelCheckEveryNOrDefault()
	for chunkIdx := 0; chunkIdx*chunkSize < len(records); chunkIdx++ {
		start := chunkIdx * chunkSize
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		stats, newIDs, err := d.importChunk(ctx, run.job.MailingListID, chunk, run.cache)
		if err != nil {
			return fmt.Errorf("import chunk for list %d epoch %d: %w", run.job.MailingListID, repo.Epoch, err)
		}
		run.metrics.EmailsImported += int64(stats.EmailsInserted)
		run.newEmailIDs = append(run.newEmailIDs, newIDs...)

		if err := d.queue.Heartbeat(ctx, run.job.ID); err != nil {
			return fmt.Errorf("heartbeat job %s: %w", run.job.ID, err)
		}
		if err := d.queue.UpdateMetrics(ctx, run.job.ID, run.metrics); err != nil {
			return fmt.Errorf("update metrics for job %s: %w", run.job.ID, err)
		}

		if chunkIdx > 0 && chunkIdx%cancelEvery == 0 {
			if err := d.checkCancelled(ctx, run); err != nil {
				return err
			}
		}
	}

	run.checkpoints[repo.Epoch] = commits[len(commits)-1].CommitHash
	return nil
}

// importChunk runs one chunk through the bulk importer and reports the
// email id of every chunk message found in the cache afterwards, for
// the incremental re-threading seed set. Emails that already existed
// and were skipped as conflicts are included too.
func (d *Dispatcher) importChunk(ctx context.Context, listID int32, chunk []importer.Record, c *cache.Cache) (importer.Stats, []int32, error) {
	messageIDs := make(map[string]bool, len(chunk))
	for _, rec := range chunk {
		messageIDs[rec.Parsed.MessageID] = true
	}

	stats, err := importer.ImportChunk(ctx, d.db, listID, chunk, c)
	if err != nil {
		return stats, nil, err
	}

	var newIDs []int32
	for messageID := range messageIDs {
		if info, ok := c.Lookup(messageID); ok {
			newIDs = append(newIDs, info.EmailID)
		}
	}
	return stats, newIDs, nil
}

// parseAll parses every commit's blob across a fixed pool of worker
// goroutines sized to GOMAXPROCS, mirroring the teacher's fixed-size
// worker pool for a CPU-bound phase (internal/worker's BatchSendWorker
// fans out across a fixed numWorkers rather than one goroutine per
// item). Skippable parse failures are counted, not propagated (spec
// §4.3, errs.PermanentInputError).
func (d *Dispatcher) parseAll(slug string, epoch int, commits []gitsource.CommitRef) ([]importer.Record, int) {
	results := make([]*importer.Record, len(commits))
	skipped := make([]bool, len(commits))

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(commits) {
		numWorkers = len(commits)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	var wg sync.WaitGroup
	work := make(chan int)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				blob, err := d.git.ReadBlob(slug, epoch, commits[i].CommitHash)
				if err != nil {
					logger.Warn("dispatcher read blob failed", "slug", slug, "epoch", epoch, "commit", commits[i].CommitHash, "error", err)
					skipped[i] = true
					continue
				}
				parsed, err := parser.Parse(blob)
				if err != nil {
					skipped[i] = true
					continue
				}
				results[i] = &importer.Record{CommitHash: commits[i].CommitHash, Epoch: epoch, Parsed: *parsed}
			}
		}()
	}
	for i := range commits {
		work <- i
	}
	close(work)
	wg.Wait()

	out := make([]importer.Record, 0, len(commits))
	skippedCount := 0
	for i, r := range results {
		if r != nil {
			out = append(out, *r)
		} else if skipped[i] {
			skippedCount++
		}
	}
	return out, skippedCount
}

// thread runs Phase E's assembled threads and persists them: a full
// rebuild over the whole cache for a full run, or the narrower
// affected-subgraph rebuild for an incremental one (spec §4.6
// "Incremental re-threading", §4.7).
func (d *Dispatcher) thread(ctx context.Context, run *jobRun) error {
	if err := d.queue.UpdatePhase(ctx, run.job.ID, domain.PhaseThreading); err != nil {
		return fmt.Errorf("set phase threading for job %s: %w", run.job.ID, err)
	}

	var writtenIDs []int32
	if run.full {
		ids, err := d.threadFull(ctx, run)
		if err != nil {
			return err
		}
		writtenIDs = ids
	} else {
		ids, err := d.threadIncremental(ctx, run)
		if err != nil {
			return err
		}
		writtenIDs = ids
	}
	run.metrics.ThreadsWritten += int64(len(writtenIDs))
	run.changedThreadIDs = writtenIDs
	return nil
}

func (d *Dispatcher) threadFull(ctx context.Context, run *jobRun) ([]int32, error) {
	emails, refs := run.cache.SnapshotForThreading()
	threaderEmails := make(map[int32]threader.EmailData, len(emails))
	for id, info := range emails {
		threaderEmails[id] = toThreaderEmailData(info)
	}
	built := threader.BuildThreads(threaderEmails, refs, d.opts)
	finalized := make([]threader.FinalizedThread, len(built))
	for i, t := range built {
		finalized[i] = threader.Finalize(t)
	}

	if err := d.queue.UpdatePhase(ctx, run.job.ID, domain.PhasePersisting); err != nil {
		return nil, fmt.Errorf("set phase persisting for job %s: %w", run.job.ID, err)
	}
	ids, err := threader.BulkInsertThreads(ctx, d.db, run.job.MailingListID, finalized)
	if err != nil {
		return nil, fmt.Errorf("persist threads for list %d: %w", run.job.MailingListID, err)
	}
	return ids, nil
}

func (d *Dispatcher) threadIncremental(ctx context.Context, run *jobRun) ([]int32, error) {
	if len(run.newEmailIDs) == 0 {
		return nil, nil
	}

	affected, err := threader.ExpandAffectedSet(ctx, d.db, run.job.MailingListID, run.newEmailIDs)
	if err != nil {
		return nil, fmt.Errorf("expand affected set for list %d: %w", run.job.MailingListID, err)
	}
	affectedThreadIDs, err := threader.AffectedThreadIDs(ctx, d.db, run.job.MailingListID, affected)
	if err != nil {
		return nil, fmt.Errorf("find affected threads for list %d: %w", run.job.MailingListID, err)
	}

	emails, refs := run.cache.SnapshotForThreading()
	affectedEmails := make(map[int32]threader.EmailData, len(affected))
	affectedRefs := make(map[int32][]string, len(affected))
	for _, id := range affected {
		if info, ok := emails[id]; ok {
			affectedEmails[id] = toThreaderEmailData(info)
		}
		if chain, ok := refs[id]; ok {
			affectedRefs[id] = chain
		}
	}

	if err := d.queue.UpdatePhase(ctx, run.job.ID, domain.PhasePersisting); err != nil {
		return nil, fmt.Errorf("set phase persisting for job %s: %w", run.job.ID, err)
	}
	ids, err := threader.RethreadAffected(ctx, d.db, run.job.MailingListID, affectedThreadIDs, affectedEmails, affectedRefs, d.opts)
	if err != nil {
		return nil, fmt.Errorf("rethread affected set for list %d: %w", run.job.MailingListID, err)
	}
	return ids, nil
}

func toThreaderEmailData(info cache.EmailThreadingInfo) threader.EmailData {
	return threader.EmailData{
		EmailID:           info.EmailID,
		MessageID:         info.MessageID,
		Subject:           info.Subject,
		NormalizedSubject: info.NormalizedSubject,
		InReplyTo:         info.InReplyTo,
		Date:              info.Date,
		SeriesID:          info.SeriesID,
		SeriesNumber:      info.SeriesNumber,
		SeriesTotal:       info.SeriesTotal,
	}
}

// finish runs the tail of the pipeline that only matters once threading
// has succeeded: saving the cache snapshot, refreshing author activity,
// and writing the checkpoints staged across the epoch loop (spec §4.7).
// A cache save failure is logged, not fatal (spec §4.7 explicitly calls
// this step non-fatal: losing the disk snapshot just forces a database
// reload next run).
func (d *Dispatcher) finish(ctx context.Context, run *jobRun) error {
	if err := run.cache.SaveToDiskAndMirror(ctx, d.cache.BasePath, d.cache.Mirror); err != nil {
		logger.Warn("dispatcher cache save failed, continuing", "mailing_list_id", run.job.MailingListID, "error", err)
	}

	authorIDs, err := importer.UpdateAuthorActivity(ctx, d.db, run.job.MailingListID)
	if err != nil {
		return fmt.Errorf("update author activity for list %d: %w", run.job.MailingListID, err)
	}
	run.changedAuthorIDs = authorIDs

	if err := d.writeCheckpoints(ctx, run); err != nil {
		return err
	}
	return nil
}

// writeCheckpoints persists every staged epoch checkpoint plus
// last_synced_at/last_threaded_at in one transaction, so a crash after
// threading but before this point simply repeats the same epoch window
// next run rather than silently dropping it (spec P10).
func (d *Dispatcher) writeCheckpoints(ctx context.Context, run *jobRun) error {
	if len(run.checkpoints) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx for list %d: %w", run.job.MailingListID, err)
	}

	for epoch, commitHash := range run.checkpoints {
		if _, err := tx.ExecContext(ctx, `
			UPDATE mailing_list_repositories
			SET last_indexed_commit = $1
			WHERE mailing_list_id = $2 AND epoch = $3
		`, commitHash, run.job.MailingListID, epoch); err != nil {
			tx.Rollback()
			return fmt.Errorf("write checkpoint for list %d epoch %d: %w", run.job.MailingListID, epoch, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE mailing_lists SET last_synced_at = now(), last_threaded_at = now() WHERE id = $1
	`, run.job.MailingListID); err != nil {
		tx.Rollback()
		return fmt.Errorf("touch last_synced_at for list %d: %w", run.job.MailingListID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoints for list %d: %w", run.job.MailingListID, err)
	}
	return nil
}

// RunLoop repeatedly polls for claimable jobs until ctx is cancelled,
// sleeping idle between polls (spec §4.7's worker loop).
func (d *Dispatcher) RunLoop(ctx context.Context, idle time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := d.RunOnce(ctx)
		if err != nil {
			logger.Error("dispatcher run once error", "error", err)
		}
		if !claimed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idle):
			}
		}
	}
}
