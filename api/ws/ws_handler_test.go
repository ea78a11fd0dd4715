package ws

import (
	"context"
	"encoding/base64"
	"testing"

	cachemocks "github.com/dkrasov/fieldmark/cache/mocks"
	"github.com/dkrasov/fieldmark/models"
	mqmocks "github.com/dkrasov/fieldmark/mq/mocks"
	"github.com/dkrasov/fieldmark/service"
	storemocks "github.com/dkrasov/fieldmark/store/mocks"
	"github.com/dkrasov/fieldmark/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type stubRenderer struct {
	rendered *models.AnnotationDocument
}

func (r *stubRenderer) Render(ctx context.Context, doc models.AnnotationDocument) ([]byte, string, error) {
	r.rendered = &doc
	return []byte("painted"), "image/png", nil
}

func TestHandler_ExportUsesConfiguredRenderer(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)
	renderer := &stubRenderer{}

	mockStore.On("GetCurrentAnnotation", mock.Anything, "photo-1").Return(nil, nil)

	svc, err := service.NewService(
		mockStore, mockCache, mockMQ,
		worker.NewCounterBatcher(mockStore, 1000),
		nil, []byte("secret"),
	)
	assert.NoError(t, err)

	handler := NewHandler(svc, NewHub(mockCache), renderer)
	client := NewClient(handler.Hub, nil, models.User{Id: "user1", Username: "inspector"}, nil)

	// Read-only sessions skip the lock entirely but can still export.
	openResp := handler.handleOpenSession(client, openSessionMessage{
		PhotoId:      "photo-1",
		ReadOnly:     true,
		CanvasWidth:  800,
		CanvasHeight: 600,
	})
	openData := openResp.Data.(map[string]any)
	assert.True(t, openData["success"].(bool))

	exportResp := handler.handleExport(client)
	exportData := exportResp.Data.(map[string]any)
	assert.True(t, exportData["success"].(bool))
	assert.Equal(t, "image/png", exportData["contentType"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("painted")), exportData["data"])

	if assert.NotNil(t, renderer.rendered) {
		assert.Equal(t, 800.0, renderer.rendered.Canvas.Width)
		assert.Equal(t, 600.0, renderer.rendered.Canvas.Height)
	}
}

func TestHandler_ExportWithoutRendererFails(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	mockStore.On("GetCurrentAnnotation", mock.Anything, "photo-1").Return(nil, nil)

	svc, err := service.NewService(
		mockStore, mockCache, mockMQ,
		worker.NewCounterBatcher(mockStore, 1000),
		nil, []byte("secret"),
	)
	assert.NoError(t, err)

	handler := NewHandler(svc, NewHub(mockCache), nil)
	client := NewClient(handler.Hub, nil, models.User{Id: "user1", Username: "inspector"}, nil)

	openResp := handler.handleOpenSession(client, openSessionMessage{
		PhotoId:      "photo-1",
		ReadOnly:     true,
		CanvasWidth:  800,
		CanvasHeight: 600,
	})
	assert.True(t, openResp.Data.(map[string]any)["success"].(bool))

	exportResp := handler.handleExport(client)
	exportData := exportResp.Data.(map[string]any)
	assert.False(t, exportData["success"].(bool))
	assert.Equal(t, "no renderer configured", exportData["error"])
}
