// Package pipeline orchestrates one transcription run: persist the
// upload, convert it when the format policy demands, transcribe, assemble
// the record, and clean up so exactly one playable artifact survives.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tiroq/echoscribe/internal/format"
	"github.com/tiroq/echoscribe/internal/jobs"
	"github.com/tiroq/echoscribe/internal/storage"
	"github.com/tiroq/echoscribe/internal/transcode"
	"github.com/tiroq/echoscribe/internal/transcript"
	"github.com/tiroq/echoscribe/internal/whisper"
)

// Upload is the raw uploaded artifact: bytes plus the client's declared
// filename and an optional language override. It exists only for the
// duration of the request that carries it.
type Upload struct {
	Filename string
	Data     []byte
	Language string // empty means the configured default
}

// Config is the orchestrator's explicit configuration.
type Config struct {
	// MediaURLPrefix is the public prefix the audio dir is served under,
	// e.g. "/media/". Deliverables resolve to <prefix>audio/<name>.
	MediaURLPrefix string
	// TranscriptDir receives <stem>_transcript.json side artifacts.
	TranscriptDir string
	// DefaultLanguage is the hint passed to the engine when the upload
	// declares none.
	DefaultLanguage string
	// TranscodeTimeout and TranscribeTimeout bound the two blocking
	// stages. Zero means no bound.
	TranscodeTimeout  time.Duration
	TranscribeTimeout time.Duration
}

// Processor runs the pipeline. All collaborators are injected; the
// processor holds no global state.
type Processor struct {
	cfg       Config
	store     *storage.Store
	converter transcode.Converter
	engine    whisper.Engine
	tracker   *jobs.Tracker
	log       *logrus.Entry
}

// New creates a Processor. tracker may be nil when no status feed is
// wanted.
func New(cfg Config, store *storage.Store, converter transcode.Converter, engine whisper.Engine, tracker *jobs.Tracker, log *logrus.Entry) *Processor {
	if cfg.MediaURLPrefix == "" {
		cfg.MediaURLPrefix = "/media/"
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	return &Processor{cfg: cfg, store: store, converter: converter, engine: engine, tracker: tracker, log: log}
}

// Process runs the full pipeline for one upload and returns the assembled
// record. On failure the returned error is stage-tagged; cleanup of the
// original file runs regardless of which stage failed, so the
// one-artifact-per-request invariant holds on every path where its fate
// was already decided.
func (p *Processor) Process(ctx context.Context, up Upload, persistTranscript bool) (*transcript.Record, error) {
	jobID, storedName := storage.UniqueName(up.Filename)
	log := p.log.WithFields(logrus.Fields{"job": jobID, "filename": up.Filename})

	p.trackStart(jobID, up.Filename)
	var runErr error
	defer func() { p.trackEnd(jobID, up.Filename, runErr) }()

	// Step 1: persist the upload before anything else touches it.
	storedPath, err := p.store.Save(storedName, up.Data)
	if err != nil {
		runErr = &Error{Stage: StagePersist, Err: err}
		return nil, runErr
	}
	log.WithField("path", storedPath).Info("upload stored")

	// Steps 2-3: conditional conversion. The converted copy becomes the
	// retained deliverable; the original is deleted only after a
	// completed conversion.
	conversionDone := false
	convertedName := ""
	defer func() {
		if !conversionDone {
			return
		}
		if err := p.store.Remove(storedName); err != nil {
			log.WithError(err).Warn("cleanup: could not remove original file")
		}
	}()

	if format.RequiresConversion(storedName) {
		p.track(jobID, up.Filename, jobs.StateConverting)
		convertedName = format.CanonicalOutputName(storedName)

		cctx, cancel := p.bound(ctx, p.cfg.TranscodeTimeout)
		err := p.converter.Convert(cctx, storedPath, p.store.Path(convertedName))
		cancel()
		if err != nil {
			stage := StageTranscode
			if transcode.IsTimeout(err) {
				stage = StageTimeout
			}
			runErr = &Error{Stage: stage, Err: err}
			return nil, runErr
		}
		conversionDone = true
		log.WithField("converted", convertedName).Info("conversion complete")
	}

	// Step 4: transcription always runs against the originally stored
	// bytes; conversion exists to produce a seekable deliverable, not to
	// feed the engine.
	p.track(jobID, up.Filename, jobs.StateTranscribing)
	language := up.Language
	if language == "" {
		language = p.cfg.DefaultLanguage
	}

	tctx, cancel := p.bound(ctx, p.cfg.TranscribeTimeout)
	result, err := p.engine.Transcribe(tctx, storedPath, language)
	cancel()
	if err != nil {
		stage := StageTranscribe
		if errors.Is(err, context.DeadlineExceeded) {
			stage = StageTimeout
		}
		runErr = &Error{Stage: stage, Err: err}
		return nil, runErr
	}

	// Step 6: assemble the immutable record.
	retained := storedName
	if conversionDone {
		retained = convertedName
	}
	rec := &transcript.Record{
		Text:     result.Text,
		Words:    result.Words,
		Segments: result.Segments,
		Language: result.Language,
		AudioURL: p.cfg.MediaURLPrefix + "audio/" + retained,
	}
	if rec.Language == "" {
		rec.Language = language
	}
	if conversionDone {
		rec.ConvertedFilename = convertedName
		rec.OriginalFilename = up.Filename
	}

	// Step 8: side-artifact persistence is best effort and never fails
	// the request.
	if persistTranscript {
		path := transcript.TranscriptPath(p.cfg.TranscriptDir, storedName)
		if err := transcript.WriteJSON(path, rec); err != nil {
			log.WithError(err).Warn("could not persist transcript side artifact")
		} else {
			log.WithField("transcript", path).Debug("transcript persisted")
		}
	}

	log.WithFields(logrus.Fields{
		"words":    len(rec.Words),
		"language": rec.Language,
		"retained": retained,
	}).Info("transcription complete")
	return rec, nil
}

// bound derives a context with the given timeout, or a plain cancelable
// context when the timeout is zero.
func (p *Processor) bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (p *Processor) trackStart(jobID, filename string) {
	if p.tracker != nil {
		p.tracker.Start(jobID, filename)
	}
}

func (p *Processor) track(jobID, filename string, next jobs.State) {
	if p.tracker == nil {
		return
	}
	if err := p.tracker.Transition(jobID, filename, next, nil); err != nil {
		p.log.WithError(err).Warn("job state tracking out of sync")
	}
}

func (p *Processor) trackEnd(jobID, filename string, runErr error) {
	if p.tracker == nil {
		return
	}
	next := jobs.StateComplete
	if runErr != nil {
		next = jobs.StateFailed
	}
	if err := p.tracker.Transition(jobID, filename, next, runErr); err != nil {
		p.log.WithError(err).Warn("job state tracking out of sync")
	}
}
