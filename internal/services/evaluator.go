package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gnafhan/cv-evaluator-workflow/internal/models"
	"github.com/gnafhan/cv-evaluator-workflow/internal/repositories"
	"github.com/gnafhan/cv-evaluator-workflow/internal/telemetry"
)

// Pipeline stages in execution order. Each stage commits its checkpoint to
// the job store before any of its work runs, so a status reader always sees
// where the job is.
const (
	StageCVParsing         = "cv_parsing"
	StageCVEvaluation      = "cv_evaluation"
	StageProjectParsing    = "project_parsing"
	StageProjectEvaluation = "project_evaluation"
	StageSynthesis         = "synthesis"
	StageCompleting        = "completing"
)

var stageCheckpoints = map[string]int{
	StageCVParsing:         10,
	StageCVEvaluation:      30,
	StageProjectParsing:    50,
	StageProjectEvaluation: 65,
	StageSynthesis:         85,
	StageCompleting:        95,
}

// Scoring weights are design constants; each set sums to 1.0.
var cvWeights = map[string]float64{
	"technical_skills_match": 0.40,
	"experience_level":       0.25,
	"relevant_achievements":  0.20,
	"cultural_fit":           0.15,
}

var projectWeights = map[string]float64{
	"correctness":   0.30,
	"code_quality":  0.25,
	"resilience":    0.20,
	"documentation": 0.15,
	"creativity":    0.10,
}

// synthesisFallbackSummary is substituted when the synthesis text comes back
// empty or is blocked by the safety screener. The job still completes.
const synthesisFallbackSummary = "An overall summary could not be generated for this evaluation. Please review the per-section scores and feedback."

// Retrieval fan-out per scoring stage.
const (
	requirementsTopK = 5
	rubricTopK       = 3
)

type EvaluatorService interface {
	EvaluateCandidate(ctx context.Context, evalID uuid.UUID) error
}

type evaluatorService struct {
	evalRepo      repositories.EvaluationRepository
	docRepo       repositories.DocumentRepository
	generation    GenerationClient
	retrieval     RetrievalClient
	safety        SafetyScreener
	injection     InjectionDetector
	pdfParser     PDFParserService
	promptBuilder *PromptBuilder
	logger        *zap.Logger
	metrics       *telemetry.Metrics

	readFile func(path string) ([]byte, error)
}

func NewEvaluatorService(
	evalRepo repositories.EvaluationRepository,
	docRepo repositories.DocumentRepository,
	generation GenerationClient,
	retrieval RetrievalClient,
	safety SafetyScreener,
	injection InjectionDetector,
	pdfParser PDFParserService,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) EvaluatorService {
	return &evaluatorService{
		evalRepo:      evalRepo,
		docRepo:       docRepo,
		generation:    generation,
		retrieval:     retrieval,
		safety:        safety,
		injection:     injection,
		pdfParser:     pdfParser,
		promptBuilder: NewPromptBuilder(),
		logger:        logger,
		metrics:       metrics,
		readFile:      os.ReadFile,
	}
}

// sideScores is the per-side outcome of a scoring stage.
type sideScores struct {
	Breakdown      map[string]models.CriterionScore
	Composite      float64
	Feedback       string
	Recommendation string
}

type cvScoreOutput struct {
	TechnicalSkillsMatch float64 `json:"technical_skills_match"`
	ExperienceLevel      float64 `json:"experience_level"`
	RelevantAchievements float64 `json:"relevant_achievements"`
	CulturalFit          float64 `json:"cultural_fit"`
	Feedback             string  `json:"feedback"`
	Recommendation       string  `json:"recommendation"`
}

type projectScoreOutput struct {
	Correctness    float64 `json:"correctness"`
	CodeQuality    float64 `json:"code_quality"`
	Resilience     float64 `json:"resilience"`
	Documentation  float64 `json:"documentation"`
	Creativity     float64 `json:"creativity"`
	Feedback       string  `json:"feedback"`
	Recommendation string  `json:"recommendation"`
}

type cvStructure struct {
	Name       string   `json:"name"`
	Experience []string `json:"experience"`
	Skills     []string `json:"skills"`
	Education  []string `json:"education"`
}

type projectStructure struct {
	Structure      string `json:"structure"`
	Implementation string `json:"implementation"`
	Documentation  string `json:"documentation"`
}

// jobMetadata is advisory accounting persisted on the job record. Generation
// usage accumulates from the per-call stats of this job only; it never reads
// process-wide counters, so two concurrent jobs cannot bleed into each
// other's records.
type jobMetadata struct {
	GenerationStats  GenerationStats   `json:"generation"`
	Warnings         []string          `json:"warnings,omitempty"`
	CVStructure      *cvStructure      `json:"cv_structure,omitempty"`
	ProjectStructure *projectStructure `json:"project_structure,omitempty"`
}

func (m *jobMetadata) recordStructuredCall(stats *StructuredCallStats) {
	if stats != nil {
		m.GenerationStats.accumulate(stats.Usage)
	}
}

// EvaluateCandidate implements EvaluatorService. It runs the five pipeline
// stages in order; any stage error fails the whole job with a typed error
// record and nothing after the failing stage executes.
func (e *evaluatorService) EvaluateCandidate(ctx context.Context, evalID uuid.UUID) error {
	log := e.logger.With(zap.String("job_id", evalID.String()))
	started := time.Now()

	evaluation, err := e.evalRepo.FindByID(evalID)
	if err != nil {
		e.failJob(evalID, log, NewStageError("", ErrCodeValidation, err))
		return fmt.Errorf("failed to get evaluation: %w", err)
	}

	meta := &jobMetadata{}

	runErr := e.runPipeline(ctx, evaluation, meta, log)

	e.persistMetadata(evalID, meta, log)

	if runErr != nil {
		e.failJob(evalID, log, runErr)
		return runErr
	}

	e.metrics.JobsTotal.WithLabelValues(string(models.StatusCompleted)).Inc()
	e.metrics.JobDuration.Observe(time.Since(started).Seconds())
	log.Info("evaluation completed", zap.Duration("elapsed", time.Since(started)))
	return nil
}

func (e *evaluatorService) runPipeline(ctx context.Context, evaluation *models.Evaluation, meta *jobMetadata, log *zap.Logger) error {
	evalID := evaluation.ID

	// Stage 1: cv_parsing
	if err := e.enterStage(evalID, StageCVParsing, true); err != nil {
		return NewStageError(StageCVParsing, ErrCodeInternal, err)
	}
	cvText, err := e.parseDocument(ctx, StageCVParsing, evaluation.CVDocumentID, CVProfile, meta, log)
	if err != nil {
		return err
	}
	e.structureCV(ctx, cvText, meta, log)

	// Stage 2: cv_evaluation
	if err := e.enterStage(evalID, StageCVEvaluation, false); err != nil {
		return NewStageError(StageCVEvaluation, ErrCodeInternal, err)
	}
	cvResult, err := e.evaluateCV(ctx, cvText, evaluation.JobTitle, meta, log)
	if err != nil {
		return err
	}

	// Stage 3: project_parsing
	if err := e.enterStage(evalID, StageProjectParsing, false); err != nil {
		return NewStageError(StageProjectParsing, ErrCodeInternal, err)
	}
	projectText, err := e.parseDocument(ctx, StageProjectParsing, evaluation.ProjectDocumentID, ProjectProfile, meta, log)
	if err != nil {
		return err
	}
	e.structureProject(ctx, projectText, meta, log)

	// Stage 4: project_evaluation
	if err := e.enterStage(evalID, StageProjectEvaluation, false); err != nil {
		return NewStageError(StageProjectEvaluation, ErrCodeInternal, err)
	}
	projectResult, err := e.evaluateProject(ctx, projectText, meta, log)
	if err != nil {
		return err
	}

	// Stage 5: synthesis
	if err := e.enterStage(evalID, StageSynthesis, false); err != nil {
		return NewStageError(StageSynthesis, ErrCodeInternal, err)
	}
	summary, err := e.synthesize(ctx, cvResult, projectResult, evaluation.JobTitle, meta, log)
	if err != nil {
		return err
	}

	// Completing: assemble and commit the final result.
	if err := e.enterStage(evalID, StageCompleting, false); err != nil {
		return NewStageError(StageCompleting, ErrCodeInternal, err)
	}
	if err := e.completeJob(evalID, cvResult, projectResult, summary); err != nil {
		return NewStageError(StageCompleting, ErrCodeInternal, err)
	}

	return nil
}

// enterStage commits the stage checkpoint before the stage's work begins. The
// first stage additionally flips the job to processing and stamps started_at.
func (e *evaluatorService) enterStage(evalID uuid.UUID, stage string, first bool) error {
	progress := stageCheckpoints[stage]
	e.metrics.StageTransitions.WithLabelValues(stage).Inc()

	if first {
		return e.evalRepo.MarkProcessing(evalID, stage, progress)
	}
	return e.evalRepo.UpdateStage(evalID, stage, progress)
}

// parseDocument runs the parsing stage for one side: raw-file safety screen,
// cached-text reuse or extraction with backfill, injection detection with the
// side's profile.
func (e *evaluatorService) parseDocument(ctx context.Context, stage string, docID uuid.UUID, profile DetectionProfile, meta *jobMetadata, log *zap.Logger) (string, error) {
	doc, err := e.docRepo.FindByID(docID)
	if err != nil {
		return "", NewStageError(stage, ErrCodeValidation, err)
	}

	raw, err := e.readFile(doc.FilePath)
	if err != nil {
		return "", NewStageError(stage, ErrCodeValidation, fmt.Errorf("failed to read document file: %w", err))
	}

	verdict, err := e.safety.ScreenFile(ctx, raw)
	if err != nil {
		return "", NewStageError(stage, ErrCodeProvider, err)
	}
	if verdict.Blocked {
		return "", NewStageError(stage, ErrCodeSecurityBlocked, &SecurityBlockedError{
			Context: "uploaded file",
			Reasons: verdict.Reasons,
		})
	}

	var text string
	if doc.ParsedContent != nil && *doc.ParsedContent != "" {
		text = *doc.ParsedContent
		log.Debug("using cached extraction", zap.String("stage", stage))
	} else {
		content, err := e.pdfParser.ExtractText(doc.FilePath)
		if err != nil {
			return "", NewStageError(stage, ErrCodeValidation, fmt.Errorf("failed to extract text: %w", err))
		}
		text = content.Text

		// Backfill the cache; a failed backfill only costs the next run a
		// re-extraction.
		if err := e.docRepo.CacheParsedContent(docID, text, content.PageCount); err != nil {
			log.Warn("failed to cache parsed content", zap.String("stage", stage), zap.Error(err))
		}
	}

	detection, err := e.injection.Detect(ctx, text, profile)
	if err != nil {
		return "", NewStageError(stage, ErrCodeProvider, err)
	}
	if profile.ShouldBlock(detection) {
		return "", NewStageError(stage, ErrCodeSecurityBlocked, &SecurityBlockedError{
			Context: fmt.Sprintf("injection detected in %s (severity=%s, confidence=%.2f)", profile.Name, detection.Severity, detection.Confidence),
			Reasons: []string{detection.Reason},
		})
	}
	if detection.Detected {
		warning := fmt.Sprintf("%s: sub-threshold injection detection (severity=%s, confidence=%.2f): %s",
			stage, detection.Severity, detection.Confidence, detection.Reason)
		meta.Warnings = append(meta.Warnings, warning)
		log.Warn("sub-threshold injection detection, continuing",
			zap.String("stage", stage),
			zap.String("severity", detection.Severity),
			zap.Float64("confidence", detection.Confidence))
	}

	return text, nil
}

// structureCV derives a structured CV summary. Structuring is an enrichment:
// failure falls back to an empty structure and never fails the job.
func (e *evaluatorService) structureCV(ctx context.Context, cvText string, meta *jobMetadata, log *zap.Logger) {
	pair := e.promptBuilder.BuildCVStructuringPrompt(cvText)

	var structure cvStructure
	stats, err := e.generation.GenerateStructured(ctx, StructuredRequest{
		SystemPrompt: pair.System,
		UserPrompt:   pair.User,
		Schema:       cvStructureSchema,
		Temperature:  0.1,
	}, &structure)
	meta.recordStructuredCall(stats)
	if err != nil {
		log.Warn("cv structuring failed, using empty structure", zap.Error(err))
		meta.Warnings = append(meta.Warnings, "cv_parsing: structuring failed, empty structure substituted")
		structure = cvStructure{}
	}

	meta.CVStructure = &structure
}

func (e *evaluatorService) structureProject(ctx context.Context, projectText string, meta *jobMetadata, log *zap.Logger) {
	pair := e.promptBuilder.BuildProjectStructuringPrompt(projectText)

	var structure projectStructure
	stats, err := e.generation.GenerateStructured(ctx, StructuredRequest{
		SystemPrompt: pair.System,
		UserPrompt:   pair.User,
		Schema:       projectStructureSchema,
		Temperature:  0.1,
	}, &structure)
	meta.recordStructuredCall(stats)
	if err != nil {
		log.Warn("project structuring failed, using empty structure", zap.Error(err))
		meta.Warnings = append(meta.Warnings, "project_parsing: structuring failed, empty structure substituted")
		structure = projectStructure{}
	}

	meta.ProjectStructure = &structure
}

// retrieveContext issues the stage's two retrieval queries concurrently and
// concatenates the results. Empty results are legitimate degraded context.
func (e *evaluatorService) retrieveContext(ctx context.Context, requirementsQuery, requirementsNamespace, rubricQuery, rubricNamespace string) (string, error) {
	var requirements, rubric []RetrievedChunk

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chunks, err := e.retrieval.Query(gctx, requirementsQuery, nil, requirementsTopK, requirementsNamespace)
		if err != nil {
			return err
		}
		requirements = chunks
		return nil
	})
	g.Go(func() error {
		chunks, err := e.retrieval.Query(gctx, rubricQuery, nil, rubricTopK, rubricNamespace)
		if err != nil {
			return err
		}
		rubric = chunks
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	return FormatRetrievedContext(append(requirements, rubric...)), nil
}

// screenPromptPair screens both halves of a prompt pair. A block on either
// aborts with the reasons from both concatenated.
func (e *evaluatorService) screenPromptPair(ctx context.Context, stage string, pair PromptPair) error {
	systemVerdict, err := e.safety.ScreenText(ctx, pair.System)
	if err != nil {
		return NewStageError(stage, ErrCodeProvider, err)
	}
	userVerdict, err := e.safety.ScreenText(ctx, pair.User)
	if err != nil {
		return NewStageError(stage, ErrCodeProvider, err)
	}

	if systemVerdict.Blocked || userVerdict.Blocked {
		reasons := append(append([]string{}, systemVerdict.Reasons...), userVerdict.Reasons...)
		return NewStageError(stage, ErrCodeSecurityBlocked, &SecurityBlockedError{
			Context: "outbound prompt",
			Reasons: reasons,
		})
	}

	return nil
}

func (e *evaluatorService) evaluateCV(ctx context.Context, cvText, jobTitle string, meta *jobMetadata, log *zap.Logger) (*sideScores, error) {
	contextBlock, err := e.retrieveContext(ctx,
		e.promptBuilder.BuildRetrievalQuery("job_requirements", jobTitle), NamespaceJobRequirements,
		e.promptBuilder.BuildRetrievalQuery("cv_rubric", jobTitle), NamespaceCVRubric,
	)
	if err != nil {
		return nil, NewStageError(StageCVEvaluation, ErrCodeProvider, err)
	}

	pair := e.promptBuilder.BuildCVEvaluationPrompt(cvText, contextBlock, jobTitle)
	if err := e.screenPromptPair(ctx, StageCVEvaluation, pair); err != nil {
		return nil, err
	}

	var output cvScoreOutput
	stats, err := e.generation.GenerateStructured(ctx, StructuredRequest{
		SystemPrompt: pair.System,
		UserPrompt:   pair.User,
		Schema:       cvScoreSchema,
		Temperature:  0.3,
	}, &output)
	meta.recordStructuredCall(stats)
	if err != nil {
		return nil, NewStageError(StageCVEvaluation, ErrCodeSchemaInvalid, err)
	}

	breakdown, weightedSum := buildBreakdown(map[string]float64{
		"technical_skills_match": output.TechnicalSkillsMatch,
		"experience_level":       output.ExperienceLevel,
		"relevant_achievements":  output.RelevantAchievements,
		"cultural_fit":           output.CulturalFit,
	}, cvWeights)

	// The CV composite is normalized from the 1-5 scale down to [0,1].
	return &sideScores{
		Breakdown:      breakdown,
		Composite:      weightedSum / 5,
		Feedback:       output.Feedback,
		Recommendation: output.Recommendation,
	}, nil
}

func (e *evaluatorService) evaluateProject(ctx context.Context, projectText string, meta *jobMetadata, log *zap.Logger) (*sideScores, error) {
	contextBlock, err := e.retrieveContext(ctx,
		e.promptBuilder.BuildRetrievalQuery("case_study", ""), NamespaceCaseStudy,
		e.promptBuilder.BuildRetrievalQuery("project_rubric", ""), NamespaceProjectRubric,
	)
	if err != nil {
		return nil, NewStageError(StageProjectEvaluation, ErrCodeProvider, err)
	}

	pair := e.promptBuilder.BuildProjectEvaluationPrompt(projectText, contextBlock)
	if err := e.screenPromptPair(ctx, StageProjectEvaluation, pair); err != nil {
		return nil, err
	}

	var output projectScoreOutput
	stats, err := e.generation.GenerateStructured(ctx, StructuredRequest{
		SystemPrompt: pair.System,
		UserPrompt:   pair.User,
		Schema:       projectScoreSchema,
		Temperature:  0.3,
	}, &output)
	meta.recordStructuredCall(stats)
	if err != nil {
		return nil, NewStageError(StageProjectEvaluation, ErrCodeSchemaInvalid, err)
	}

	breakdown, weightedSum := buildBreakdown(map[string]float64{
		"correctness":   output.Correctness,
		"code_quality":  output.CodeQuality,
		"resilience":    output.Resilience,
		"documentation": output.Documentation,
		"creativity":    output.Creativity,
	}, projectWeights)

	// The project composite stays on the 0-5 scale; only the CV side is
	// normalized. Consumers expect this asymmetry.
	return &sideScores{
		Breakdown:      breakdown,
		Composite:      weightedSum,
		Feedback:       output.Feedback,
		Recommendation: output.Recommendation,
	}, nil
}

// synthesize generates the overall summary. A blocked or empty response
// substitutes the fixed fallback sentence; only a blocked prompt or an
// exhausted provider fails the stage.
func (e *evaluatorService) synthesize(ctx context.Context, cvResult, projectResult *sideScores, jobTitle string, meta *jobMetadata, log *zap.Logger) (string, error) {
	pair := e.promptBuilder.BuildSynthesisPrompt(
		cvResult.Feedback,
		projectResult.Feedback,
		cvResult.Composite,
		projectResult.Composite,
		jobTitle,
	)

	if err := e.screenPromptPair(ctx, StageSynthesis, pair); err != nil {
		return "", err
	}

	// Higher temperature than the scoring calls; the summary favors fluency
	// over determinism.
	summary, usage, err := e.generation.GenerateText(ctx, pair.System, pair.User, 0.7)
	meta.GenerationStats.accumulate(usage)
	if err != nil {
		return "", NewStageError(StageSynthesis, ErrCodeProvider, err)
	}

	if summary == "" {
		meta.Warnings = append(meta.Warnings, "synthesis: empty response, fallback summary substituted")
		return synthesisFallbackSummary, nil
	}

	verdict, err := e.safety.ScreenText(ctx, summary)
	if err != nil {
		return "", NewStageError(StageSynthesis, ErrCodeProvider, err)
	}
	if verdict.Blocked {
		log.Warn("synthesis output blocked by safety screening, substituting fallback summary",
			zap.Strings("reasons", verdict.Reasons))
		meta.Warnings = append(meta.Warnings, "synthesis: generated text blocked, fallback summary substituted")
		return synthesisFallbackSummary, nil
	}

	return summary, nil
}

func (e *evaluatorService) completeJob(evalID uuid.UUID, cvResult, projectResult *sideScores, summary string) error {
	cvBreakdownJSON, err := json.Marshal(cvResult.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal cv breakdown: %w", err)
	}
	projectBreakdownJSON, err := json.Marshal(projectResult.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal project breakdown: %w", err)
	}

	cvBreakdown := string(cvBreakdownJSON)
	projectBreakdown := string(projectBreakdownJSON)

	updateData := &repositories.EvaluationUpdateData{
		CVMatchRate:           &cvResult.Composite,
		CVFeedback:            &cvResult.Feedback,
		CVRecommendation:      &cvResult.Recommendation,
		CVBreakdown:           &cvBreakdown,
		ProjectScore:          &projectResult.Composite,
		ProjectFeedback:       &projectResult.Feedback,
		ProjectRecommendation: &projectResult.Recommendation,
		ProjectBreakdown:      &projectBreakdown,
		OverallSummary:        &summary,
	}

	if err := e.evalRepo.UpdateResult(evalID, updateData); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	return nil
}

// failJob writes the terminal failure record exactly once.
func (e *evaluatorService) failJob(evalID uuid.UUID, log *zap.Logger, jobErr error) {
	code, message, stage := ClassifyJobError(jobErr)

	if err := e.evalRepo.UpdateError(evalID, string(code), message, stage); err != nil {
		log.Error("failed to persist job error", zap.Error(err))
	}

	e.metrics.JobsTotal.WithLabelValues(string(models.StatusFailed)).Inc()
	log.Error("evaluation failed",
		zap.String("code", string(code)),
		zap.String("stage", stage),
		zap.Error(jobErr))
}

func (e *evaluatorService) persistMetadata(evalID uuid.UUID, meta *jobMetadata, log *zap.Logger) {
	metadataJSON, err := json.Marshal(meta)
	if err != nil {
		log.Warn("failed to marshal job metadata", zap.Error(err))
		return
	}

	if err := e.evalRepo.UpdateMetadata(evalID, string(metadataJSON)); err != nil {
		log.Warn("failed to persist job metadata", zap.Error(err))
	}
}

// buildBreakdown assembles the weighted criterion map and the weighted sum.
func buildBreakdown(scores, weights map[string]float64) (map[string]models.CriterionScore, float64) {
	breakdown := make(map[string]models.CriterionScore, len(scores))
	var weightedSum float64

	for criterion, score := range scores {
		weight := weights[criterion]
		weighted := score * weight
		breakdown[criterion] = models.CriterionScore{
			Score:         score,
			Weight:        weight,
			WeightedScore: weighted,
		}
		weightedSum += weighted
	}

	return breakdown, weightedSum
}
