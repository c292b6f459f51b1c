package callback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/inkflow-ai/inkflow/internal/completion"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	"github.com/inkflow-ai/inkflow/internal/generation/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestRouter(t *testing.T) (*Router, *gorm.DB, generationdomain.Repository) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&generationdomain.GenerationRequest{}, &generationdomain.GenerationJob{}))

	repo := repository.Provide()
	applier := completion.NewApplier(completion.Params{
		DB:   db,
		Log:  zap.NewNop(),
		Repo: repo,
	})
	router := NewRouter(Params{
		Log:     zap.NewNop(),
		DB:      db,
		Repo:    repo,
		Applier: applier,
	})
	return router, db, repo
}

func seedPending(t *testing.T, db *gorm.DB, repo generationdomain.Repository, id snowflake.ID) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, repo.Insert(context.Background(), db,
		&generationdomain.GenerationRequest{
			ID:        id,
			UserID:    snowflake.ID(9),
			Type:      generationdomain.TypeVideo,
			Status:    generationdomain.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		&generationdomain.GenerationJob{
			GenerationRequestID: id,
			UserID:              snowflake.ID(9),
			Type:                generationdomain.TypeVideo,
			Status:              generationdomain.StatusPending,
			CreatedAt:           now,
			UpdatedAt:           now,
		}))
}

func TestHandle_CompletesWithContent(t *testing.T) {
	router, db, repo := newTestRouter(t)
	id := snowflake.ID(7001)
	seedPending(t, db, repo, id)

	body := fmt.Sprintf(`{"generationRequestId":"%d","content":"the video is rendered"}`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(body)))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusCompleted, req.Status)
	assert.Equal(t, "the video is rendered", req.Result["content"])
}

func TestHandle_UnwrapsSingleElementArray(t *testing.T) {
	router, db, repo := newTestRouter(t)
	id := snowflake.ID(7002)
	seedPending(t, db, repo, id)

	body := fmt.Sprintf(`[{"requestId":"%d","imageUrl":"https://cdn/x.png"}]`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(body)))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusCompleted, req.Status)
	assert.Equal(t, "https://cdn/x.png", req.Result["imageUrl"])
}

func TestHandle_UnwrapsEmbeddedJSONContent(t *testing.T) {
	router, db, repo := newTestRouter(t)
	id := snowflake.ID(7003)
	seedPending(t, db, repo, id)

	body := fmt.Sprintf(`{"id":"%d","content":"{\"videoUrl\":\"https://cdn/v.mp4\",\"duration\":12}"}`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(body)))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusCompleted, req.Status)
	assert.Equal(t, "https://cdn/v.mp4", req.Result["videoUrl"])
}

func TestHandle_ErrorFieldFailsRequest(t *testing.T) {
	router, db, repo := newTestRouter(t)
	id := snowflake.ID(7004)
	seedPending(t, db, repo, id)

	body := fmt.Sprintf(`{"generationRequestId":"%d","errorMessage":"render pipeline crashed"}`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(body)))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusFailed, req.Status)
	require.NotNil(t, req.Error)
	assert.Equal(t, "render pipeline crashed", *req.Error)
}

func TestHandle_NullErrorFieldIsSuccess(t *testing.T) {
	router, db, repo := newTestRouter(t)
	id := snowflake.ID(7005)
	seedPending(t, db, repo, id)

	body := fmt.Sprintf(`{"generationRequestId":"%d","error":null,"text":"ok"}`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(body)))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusCompleted, req.Status)
}

func TestHandle_SuccessFalseWithContentFails(t *testing.T) {
	router, db, repo := newTestRouter(t)
	id := snowflake.ID(7007)
	seedPending(t, db, repo, id)

	body := fmt.Sprintf(`{"requestId":"%d","success":false,"content":"half-rendered junk"}`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(body)))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusFailed, req.Status)
	require.NotNil(t, req.Error)
	assert.Equal(t, "generation failed", *req.Error)
	assert.Empty(t, req.Result, "content sent alongside success:false must not be stored as a result")
}

func TestHandle_SuccessFalseWithoutErrorFieldFails(t *testing.T) {
	router, db, repo := newTestRouter(t)
	id := snowflake.ID(7008)
	seedPending(t, db, repo, id)

	body := fmt.Sprintf(`{"generationRequestId":"%d","success":false}`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(body)))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusFailed, req.Status)
	require.NotNil(t, req.Error)
	assert.Equal(t, "generation failed", *req.Error)
}

func TestHandle_SuccessFalseKeepsReportedError(t *testing.T) {
	router, db, repo := newTestRouter(t)
	id := snowflake.ID(7009)
	seedPending(t, db, repo, id)

	body := fmt.Sprintf(`{"id":"%d","success":false,"errorMessage":"gpu quota exceeded"}`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(body)))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusFailed, req.Status)
	require.NotNil(t, req.Error)
	assert.Equal(t, "gpu quota exceeded", *req.Error)
}

func TestHandle_SuccessTrueCompletes(t *testing.T) {
	router, db, repo := newTestRouter(t)
	id := snowflake.ID(7010)
	seedPending(t, db, repo, id)

	body := fmt.Sprintf(`{"generationRequestId":"%d","success":true,"error":null,"content":"done"}`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(body)))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusCompleted, req.Status)
	assert.Equal(t, "done", req.Result["content"])
}

func TestHandle_NumericRequestID(t *testing.T) {
	router, db, repo := newTestRouter(t)
	id := snowflake.ID(7011)
	seedPending(t, db, repo, id)

	body := fmt.Sprintf(`{"requestId":%d,"content":"ok"}`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(body)))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusCompleted, req.Status)
}

func TestHandle_UnknownRequestIsMismatch(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body := `{"generationRequestId":"123456789","content":"orphan"}`
	assert.ErrorIs(t, router.Handle(context.Background(), []byte(body)), ErrMismatch)
}

func TestHandle_TerminalRequestIsIdempotentAck(t *testing.T) {
	router, db, repo := newTestRouter(t)
	id := snowflake.ID(7006)
	seedPending(t, db, repo, id)

	first := fmt.Sprintf(`{"generationRequestId":"%d","content":"original"}`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(first)))

	redelivery := fmt.Sprintf(`{"generationRequestId":"%d","content":"redelivered"}`, id)
	require.NoError(t, router.Handle(context.Background(), []byte(redelivery)))

	req, err := repo.FindByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, "original", req.Result["content"], "redelivery must not overwrite the stored result")
}

func TestHandle_MalformedPayloads(t *testing.T) {
	router, _, _ := newTestRouter(t)

	for name, body := range map[string]string{
		"not json":              `this is not json`,
		"empty array":           `[]`,
		"no id":                 `{"content":"ok"}`,
		"no content":            `{"generationRequestId":"123"}`,
		"scalar":                `42`,
		"non-numeric id":        `{"generationRequestId":"abc","content":"x"}`,
		"fractional numeric id": `{"requestId":12.5,"content":"x"}`,
		"oversized numeric id":  `{"requestId":9007199254740993,"content":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, router.Handle(context.Background(), []byte(body)), ErrMalformed)
		})
	}
}
