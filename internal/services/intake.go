package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/artistbot/logostudy-backend/internal/apperr"
	"github.com/artistbot/logostudy-backend/internal/conditions"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/repos"
	"github.com/artistbot/logostudy-backend/internal/types"
	"github.com/artistbot/logostudy-backend/internal/utils"
)

// SampleFetcher retrieves one reference file from the survey platform.
type SampleFetcher interface {
	Fetch(ctx context.Context, responseID string, sourceURL string) (data []byte, contentType string, err error)
}

// qualtricsFetcher pulls uploaded files through the Qualtrics responses API.
// The inbound URL carries the file id in its "F" query parameter.
type qualtricsFetcher struct {
	log        *logger.Logger
	datacenter string
	surveyID   string
	apiToken   string
	httpClient *http.Client
}

func NewQualtricsFetcher(log *logger.Logger) SampleFetcher {
	fetcherLog := log.With("service", "QualtricsFetcher")
	return &qualtricsFetcher{
		log:        fetcherLog,
		datacenter: utils.GetEnv("QUALTRICS_DATACENTER", "", fetcherLog),
		surveyID:   utils.GetEnv("QUALTRICS_SURVEY_ID", "", fetcherLog),
		apiToken:   utils.GetEnv("QUALTRICS_API_TOKEN", "", fetcherLog),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (qf *qualtricsFetcher) Fetch(ctx context.Context, responseID string, sourceURL string) ([]byte, string, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid source url: %w", err)
	}
	fileID := parsed.Query().Get("F")
	if fileID == "" {
		return nil, "", fmt.Errorf("file id not found in url")
	}

	apiURL := fmt.Sprintf("https://%s.qualtrics.com/API/v3/surveys/%s/responses/%s/uploaded-files/%s",
		qf.datacenter, qf.surveyID, responseID, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("X-API-TOKEN", qf.apiToken)

	resp, err := qf.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("file download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

type IntakeRequest struct {
	ResponseID       string
	ArtistExperience string
	WorkSampleURLs   []string
}

type IntakeOutcome struct {
	Participant       *types.Participant
	AssignedCondition *conditions.Condition
	SavedSamples      int
}

// IntakeService ingests webhook submissions: download each reference file,
// persist it to the bucket, and create/update the Participant Record. A
// single failed file is skipped; the intake fails only when every file fails.
type IntakeService interface {
	ProcessIntake(ctx context.Context, req IntakeRequest) (*IntakeOutcome, error)
}

type intakeService struct {
	db             *gorm.DB
	log            *logger.Logger
	participants   repos.ParticipantRepo
	bucket         BucketService
	fetcher        SampleFetcher
	balancer       BalancerService
	assignOnIntake bool
}

func NewIntakeService(
	db *gorm.DB,
	baseLog *logger.Logger,
	participantRepo repos.ParticipantRepo,
	bucketService BucketService,
	fetcher SampleFetcher,
	balancer BalancerService,
	assignOnIntake bool,
) IntakeService {
	return &intakeService{
		db:             db,
		log:            baseLog.With("service", "IntakeService"),
		participants:   participantRepo,
		bucket:         bucketService,
		fetcher:        fetcher,
		balancer:       balancer,
		assignOnIntake: assignOnIntake,
	}
}

type fetchedSample struct {
	data        []byte
	contentType string
	sourceURL   string
}

func (is *intakeService) ProcessIntake(ctx context.Context, req IntakeRequest) (*IntakeOutcome, error) {
	if req.ResponseID == "" || req.ArtistExperience == "" || len(req.WorkSampleURLs) == 0 {
		return nil, apperr.Validation("missing required intake fields")
	}

	fetched := make([]*fetchedSample, len(req.WorkSampleURLs))
	g, gctx := errgroup.WithContext(ctx)
	for i, sourceURL := range req.WorkSampleURLs {
		g.Go(func() error {
			data, contentType, err := is.fetcher.Fetch(gctx, req.ResponseID, sourceURL)
			if err != nil {
				// Skip this file; the intake survives partial failure.
				is.log.ForRequest(gctx).Warn("Skipping reference file after fetch failure",
					"response_id", req.ResponseID,
					"index", i+1,
					"error", apperr.UpstreamFetch(err, "fetch of file %d failed", i+1),
				)
				return nil
			}
			fetched[i] = &fetchedSample{data: data, contentType: contentType, sourceURL: sourceURL}
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now().UTC()
	var samples []*types.ReferenceImage
	for i, f := range fetched {
		if f == nil {
			continue
		}
		ext := inferExtension(f.sourceURL, f.contentType)
		fileName := fmt.Sprintf("work_sample_%d.%s", i+1, ext)
		key := fmt.Sprintf("%s/%s", req.ResponseID, fileName)
		if err := is.bucket.UploadFile(ctx, key, f.contentType, bytes.NewReader(f.data)); err != nil {
			is.log.ForRequest(ctx).Warn("Skipping reference file after upload failure",
				"response_id", req.ResponseID,
				"storage_key", key,
				"error", err,
			)
			continue
		}
		samples = append(samples, &types.ReferenceImage{
			ID:         uuid.New(),
			Position:   i + 1,
			FileName:   fileName,
			URL:        is.bucket.GetPublicURL(key),
			StorageKey: is.bucket.StorageURI(key),
			UploadedAt: now,
		})
	}

	if len(samples) == 0 {
		return nil, apperr.UpstreamFetch(nil, "failed to process any work samples for %s", req.ResponseID)
	}

	participant, err := is.participants.GetByResponseID(ctx, nil, req.ResponseID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to look up participant %s", req.ResponseID)
	}
	if participant == nil {
		participant, err = is.participants.Create(ctx, nil, &types.Participant{
			ID:               uuid.New(),
			ResponseID:       req.ResponseID,
			ArtistExperience: req.ArtistExperience,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if err != nil {
			return nil, apperr.Persistence(err, "failed to create participant %s", req.ResponseID)
		}
	} else if err := is.participants.UpdateExperience(ctx, nil, req.ResponseID, req.ArtistExperience); err != nil {
		return nil, apperr.Persistence(err, "failed to update participant %s", req.ResponseID)
	}

	for _, sample := range samples {
		sample.ParticipantID = participant.ID
	}
	if err := is.participants.AddWorkSamples(ctx, nil, samples); err != nil {
		return nil, apperr.Persistence(err, "failed to save work samples for %s", req.ResponseID)
	}

	outcome := &IntakeOutcome{Participant: participant, SavedSamples: len(samples)}

	if is.assignOnIntake && participant.AssignedCondition == nil {
		assigned := is.balancer.Assign(ctx)
		effective, err := is.participants.AssignConditionIfUnset(ctx, nil, req.ResponseID, assigned)
		if err != nil {
			return nil, apperr.Persistence(err, "failed to persist intake assignment for %s", req.ResponseID)
		}
		outcome.AssignedCondition = &effective
	} else if participant.AssignedCondition != nil {
		outcome.AssignedCondition = participant.AssignedCondition
	}

	is.log.ForRequest(ctx).Info("Intake processed",
		"response_id", req.ResponseID,
		"saved_samples", len(samples),
		"skipped", len(req.WorkSampleURLs)-len(samples),
	)
	return outcome, nil
}

var knownImageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
}

// inferExtension takes the extension from the source URL when it looks like a
// real image extension, otherwise derives one from the content type.
func inferExtension(sourceURL, contentType string) string {
	ext := ""
	trimmed := sourceURL
	if idx := strings.IndexByte(trimmed, '?'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.LastIndexByte(trimmed, '.'); idx >= 0 {
		ext = strings.ToLower(trimmed[idx+1:])
	}
	if knownImageExtensions[ext] {
		if ext == "jpeg" {
			return "jpg"
		}
		return ext
	}

	switch {
	case strings.Contains(contentType, "jpeg"):
		return "jpg"
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "gif"):
		return "gif"
	case strings.Contains(contentType, "webp"):
		return "webp"
	default:
		return "bin"
	}
}
