package extract

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/metrics"
	"github.com/reliefworks/jobharvester/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

var testClock = fixedClock{at: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}

type fakeAIClient struct {
	fields map[harvest.FieldName]AIFieldValue
	calls  int
	asked  [][]harvest.FieldName
	err    error
}

func (c *fakeAIClient) ExtractFields(_ context.Context, _ string, missing []harvest.FieldName) (map[harvest.FieldName]AIFieldValue, error) {
	c.calls++
	c.asked = append(c.asked, missing)
	if c.err != nil {
		return nil, c.err
	}
	return c.fields, nil
}

func newTestPipeline(t *testing.T, policies harvest.DomainPolicyStore, ai AIClient, budget Budget) *Pipeline {
	t.Helper()
	if policies == nil {
		policies = memory.NewDomainPolicyStore()
	}
	if budget == nil {
		budget = NewMemoryBudget(100, testClock)
	}
	return NewDefaultPipeline(0.35, policies, ai, budget, testClock, zap.NewNop())
}

const jsonldPage = `<!DOCTYPE html>
<html><head>
<title>Program Officer | UNICEF Careers</title>
<script type="application/ld+json">
{
  "@context": "https://schema.org/",
  "@type": "JobPosting",
  "title": "Program Officer",
  "datePosted": "2025-10-15",
  "validThrough": "2025-12-01",
  "hiringOrganization": {"@type": "Organization", "name": "UNICEF"},
  "jobLocation": {"@type": "Place", "address": {"addressLocality": "Nairobi", "addressCountry": "Kenya"}},
  "url": "https://jobs.unicef.org/apply/42",
  "description": "<p>Coordinate field programs.</p>"
}
</script>
</head><body>
<h1>Program Officer</h1>
<p>How to apply: see link below. Application deadline: 2025-12-01.</p>
</body></html>`

func TestPipelineJSONLDEndToEnd(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, nil, nil, nil)
	result, err := p.Extract(context.Background(), []byte(jsonldPage), "https://jobs.unicef.org/job/42")
	require.NoError(t, err)

	require.True(t, result.IsJob)
	require.Equal(t, "Program Officer", result.Title.Value)
	require.Equal(t, harvest.StageJSONLD, result.Title.Source)
	require.GreaterOrEqual(t, result.Title.Confidence, 0.9)
	require.Equal(t, "UNICEF", result.Employer.Value)
	require.Equal(t, "Nairobi, Kenya", result.Location.Value)
	require.Equal(t, "2025-12-01", result.Deadline.Value)
	require.Equal(t, "2025-10-15", result.PostedOn.Value)
	require.Equal(t, "https://jobs.unicef.org/apply/42", result.ApplyURL.Value)
	require.Contains(t, result.StagesFired, harvest.StageJSONLD)
	require.GreaterOrEqual(t, result.OverallConfidence, 0.9)
	require.False(t, result.NeedsReview)
}

func TestPipelineClassifierShortCircuit(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>About us</title></head>
<body><p>We are a nonprofit working on water access. Read our annual report.</p></body></html>`

	p := newTestPipeline(t, nil, nil, nil)
	result, err := p.Extract(context.Background(), []byte(page), "https://example.org/about")
	require.NoError(t, err)

	require.False(t, result.IsJob)
	require.Equal(t, []harvest.StageName{harvest.StageClassifier}, result.StagesFired)
	require.Empty(t, result.Title.Value)
}

func TestPipelineEarlierStageNeverOverwritten(t *testing.T) {
	t.Parallel()

	// JSON-LD and og:title disagree; the JSON-LD value must survive.
	page := `<html><head>
<title>Careers</title>
<meta property="og:title" content="Totally Different Title">
<script type="application/ld+json">
{"@type": "JobPosting", "title": "Program Officer", "hiringOrganization": {"name": "UNICEF"}}
</script>
</head><body><p>Apply now. Closing date: 2025-12-01. Duty station: Nairobi.</p></body></html>`

	p := newTestPipeline(t, nil, nil, nil)
	result, err := p.Extract(context.Background(), []byte(page), "https://example.org/job/1")
	require.NoError(t, err)

	require.Equal(t, "Program Officer", result.Title.Value)
	require.Equal(t, harvest.StageJSONLD, result.Title.Source)
}

func TestPipelineMetaFillsGaps(t *testing.T) {
	t.Parallel()

	page := `<html><head>
<title>Logistics Coordinator | Save the Children</title>
<meta property="og:title" content="Logistics Coordinator | Save the Children">
<meta property="og:site_name" content="Save the Children">
<meta property="og:description" content="Coordinate supply chains.">
<meta property="og:url" content="https://careers.savethechildren.org/job/77">
</head><body><p>Apply now. Application deadline: 2025-11-15. Responsibilities and qualifications below.</p></body></html>`

	p := newTestPipeline(t, nil, nil, nil)
	result, err := p.Extract(context.Background(), []byte(page), "https://careers.savethechildren.org/job/77")
	require.NoError(t, err)

	require.True(t, result.IsJob)
	require.Equal(t, "Logistics Coordinator", result.Title.Value)
	require.Equal(t, harvest.StageMeta, result.Title.Source)
	require.Equal(t, "Save the Children", result.Employer.Value)
	require.Equal(t, "https://careers.savethechildren.org/job/77", result.ApplyURL.Value)
	require.InDelta(t, 0.7, result.Title.Confidence, 0.001)
}

func TestPipelineLabelHeuristics(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Vacancy</title></head><body>
<h1>Open position</h1>
<p>Apply now before the closing date.</p>
<dl>
  <dt>Job Title</dt><dd>WASH Specialist</dd>
  <dt>Organization</dt><dd>Oxfam</dd>
  <dt>Duty Station</dt><dd>Juba, South Sudan</dd>
</dl>
<table>
  <tr><th>Closing date</th><td>15 November 2025</td></tr>
  <tr><th>Apply</th><td><a href="/apply/9">Apply here</a></td></tr>
</table>
</body></html>`

	p := newTestPipeline(t, nil, nil, nil)
	result, err := p.Extract(context.Background(), []byte(page), "https://jobs.oxfam.org/vacancy/9")
	require.NoError(t, err)

	require.Equal(t, "Oxfam", result.Employer.Value)
	require.Equal(t, harvest.StageLabels, result.Employer.Source)
	require.Equal(t, "Juba, South Sudan", result.Location.Value)
	require.Equal(t, "15 November 2025", result.Deadline.Value)
	require.Equal(t, "https://jobs.oxfam.org/apply/9", result.ApplyURL.Value)
}

func TestPipelineSiteSelectors(t *testing.T) {
	t.Parallel()

	policies := memory.NewDomainPolicyStore(harvest.DomainPolicy{
		Host: "jobs.example.org",
		Selectors: map[harvest.FieldName]string{
			harvest.FieldTitle:    "h1.job-title",
			harvest.FieldEmployer: "span.org-name",
			harvest.FieldApplyURL: "a#apply-link",
		},
	})

	page := `<html><head><title>Careers</title></head><body>
<h1 class="job-title">Protection Officer</h1>
<span class="org-name">NRC</span>
<a id="apply-link" href="/openings/12/apply">Apply now</a>
<p>Job description, responsibilities, qualifications. Deadline: 2025-12-20.</p>
</body></html>`

	p := newTestPipeline(t, policies, nil, nil)
	result, err := p.Extract(context.Background(), []byte(page), "https://jobs.example.org/openings/12")
	require.NoError(t, err)

	require.Equal(t, "Protection Officer", result.Title.Value)
	require.Equal(t, harvest.StageSelectors, result.Title.Source)
	require.InDelta(t, 0.75, result.Title.Confidence, 0.001)
	require.Equal(t, "NRC", result.Employer.Value)
	require.Equal(t, "https://jobs.example.org/openings/12/apply", result.ApplyURL.Value)
}

func TestPipelineRegexFallback(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Vacancy: Field Nurse</title></head><body>
<p>Apply now for this position based in Goma, DR Congo.</p>
<p>Applications close 2025-12-01. Responsibilities include clinic management.</p>
</body></html>`

	p := newTestPipeline(t, nil, nil, nil)
	result, err := p.Extract(context.Background(), []byte(page), "https://example.org/job/5")
	require.NoError(t, err)

	require.Equal(t, "2025-12-01", result.Deadline.Value)
	require.Equal(t, harvest.StageRegex, result.Deadline.Source)
	require.InDelta(t, 0.5, result.Deadline.Confidence, 0.001)
}

func TestAIStageOnlyAskedForMissingFields(t *testing.T) {
	t.Parallel()

	ai := &fakeAIClient{fields: map[harvest.FieldName]AIFieldValue{
		harvest.FieldLocation: {Value: "Remote", Confidence: 0.95},
	}}

	page := `<html><head><title>Grants Manager | Mercy Corps</title>
<meta property="og:title" content="Grants Manager">
<meta property="og:site_name" content="Mercy Corps">
<meta property="og:url" content="https://jobs.mercycorps.org/apply/3">
</head><body><p>Apply now. Job description, responsibilities, qualifications.</p></body></html>`

	p := newTestPipeline(t, nil, ai, nil)
	result, err := p.Extract(context.Background(), []byte(page), "https://jobs.mercycorps.org/job/3")
	require.NoError(t, err)

	require.Equal(t, 1, ai.calls)
	require.NotContains(t, ai.asked[0], harvest.FieldTitle)
	require.Contains(t, ai.asked[0], harvest.FieldLocation)

	require.Equal(t, "Remote", result.Location.Value)
	require.Equal(t, harvest.StageAI, result.Location.Source)
	// Model confidence is capped.
	require.InDelta(t, 0.8, result.Location.Confidence, 0.001)
	require.Equal(t, 1, result.AICalls)
}

func TestAIStageBudgetExhaustedSkipsGracefully(t *testing.T) {
	t.Parallel()

	ai := &fakeAIClient{fields: map[harvest.FieldName]AIFieldValue{}}
	budget := NewMemoryBudget(0, testClock)

	page := `<html><head><title>Driver | WFP</title></head>
<body><p>Apply now. Job description, responsibilities, qualifications.</p></body></html>`

	p := newTestPipeline(t, nil, ai, budget)
	result, err := p.Extract(context.Background(), []byte(page), "https://example.org/job/8")
	require.NoError(t, err)
	require.Equal(t, 0, ai.calls)
	require.Equal(t, 0, result.AICalls)
}

func TestMemoryBudgetResetsAtMidnight(t *testing.T) {
	t.Parallel()

	clock := &mutableClock{at: time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC)}
	budget := NewMemoryBudget(1, clock)
	ctx := context.Background()

	require.NoError(t, budget.Take(ctx))
	require.ErrorIs(t, budget.Take(ctx), harvest.ErrAIBudgetExceeded)

	clock.at = clock.at.Add(2 * time.Hour)
	require.NoError(t, budget.Take(ctx))
}

type mutableClock struct{ at time.Time }

func (c *mutableClock) Now() time.Time { return c.at }

func TestScorerBands(t *testing.T) {
	t.Parallel()

	scorer := NewScorer()

	full := harvest.ExtractionResult{
		IsJob:           true,
		ClassifierScore: 0.9,
		Title:           harvest.Field{Value: "a", Source: harvest.StageJSONLD, Confidence: 0.92},
		Employer:        harvest.Field{Value: "b", Source: harvest.StageJSONLD, Confidence: 0.92},
		Location:        harvest.Field{Value: "c", Source: harvest.StageJSONLD, Confidence: 0.92},
		ApplyURL:        harvest.Field{Value: "d", Source: harvest.StageJSONLD, Confidence: 0.92},
	}
	scorer.Finalize(&full)
	require.InDelta(t, 0.92, full.OverallConfidence, 0.001)
	require.False(t, full.NeedsReview)

	// Missing critical fields contribute zero.
	partial := harvest.ExtractionResult{
		IsJob:           true,
		ClassifierScore: 0.9,
		Title:           harvest.Field{Value: "a", Source: harvest.StageMeta, Confidence: 0.7},
	}
	scorer.Finalize(&partial)
	require.InDelta(t, 0.175, partial.OverallConfidence, 0.001)
	require.True(t, partial.NeedsReview)

	// Ambiguous classifier band forces review even with strong fields.
	ambiguous := full
	ambiguous.ClassifierScore = 0.5
	scorer.Finalize(&ambiguous)
	require.True(t, ambiguous.NeedsReview)

	// A critical field filled by the AI fallback forces review even when
	// overall confidence clears the threshold.
	aiHeavy := full
	aiHeavy.AICalls = 1
	aiHeavy.ApplyURL = harvest.Field{Value: "d", Source: harvest.StageAI, Confidence: 0.8}
	scorer.Finalize(&aiHeavy)
	require.Greater(t, aiHeavy.OverallConfidence, 0.5)
	require.True(t, aiHeavy.NeedsReview)

	// AI filling only non-critical fields does not.
	aiMinor := full
	aiMinor.AICalls = 1
	aiMinor.Deadline = harvest.Field{Value: "2026-01-01", Source: harvest.StageAI, Confidence: 0.8}
	scorer.Finalize(&aiMinor)
	require.False(t, aiMinor.NeedsReview)
}

func TestLegacyExtractor(t *testing.T) {
	t.Parallel()

	page := `<html><head>
<title>Field Coordinator | IRC</title>
<meta property="og:site_name" content="IRC">
<meta name="description" content="Coordinate field operations.">
</head><body><p>Some page body.</p></body></html>`

	legacy := NewLegacy(testClock)
	result, err := legacy.Extract(context.Background(), []byte(page), "https://careers.rescue.org/job/4")
	require.NoError(t, err)

	require.True(t, result.IsJob)
	require.Equal(t, harvest.PipelineLegacy, result.Pipeline)
	require.Equal(t, "Field Coordinator", result.Title.Value)
	require.Equal(t, harvest.StageLegacy, result.Title.Source)
	require.Equal(t, "IRC", result.Employer.Value)
	require.Equal(t, "https://careers.rescue.org/job/4", result.ApplyURL.Value)
}

func TestParseAIResponseToleratesFences(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"location\": {\"value\": \"Geneva\", \"confidence\": 0.9}}\n```"
	fields, err := parseAIResponse(raw)
	require.NoError(t, err)
	require.Equal(t, "Geneva", fields[harvest.FieldLocation].Value)

	_, err = parseAIResponse("not json")
	require.Error(t, err)
}
