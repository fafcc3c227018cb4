package imageproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/leca/imagevault/internal/model"
)

// RunTask executes a single processing task: ensure the source bytes are
// local, apply the operation, write the result next to the source, and
// record the outcome. The task moves pending -> processing -> {completed,
// failed} exactly once; the error text of a failure is captured verbatim.
func (p *Pipeline) RunTask(ctx context.Context, taskID int64) error {
	task, err := p.DB.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", taskID, err)
	}

	img, err := p.DB.GetImage(task.ImageID)
	if err != nil {
		p.failTask(task, "image not found")
		return fmt.Errorf("load image %d: %w", task.ImageID, err)
	}

	srcPath, err := p.ensureLocal(ctx, img)
	if err != nil {
		p.failTask(task, err.Error())
		return err
	}

	task.Status = model.StatusProcessing
	if err := p.DB.UpdateTask(task); err != nil {
		return fmt.Errorf("mark task processing: %w", err)
	}

	resultPath, err := p.executeTask(task, img, srcPath)
	if err != nil {
		p.failTask(task, err.Error())
		return err
	}

	result, _ := json.Marshal(map[string]string{"result_path": resultPath})
	now := time.Now().UTC()
	task.Status = model.StatusCompleted
	task.Result = string(result)
	task.CompletedAt = &now
	if err := p.DB.UpdateTask(task); err != nil {
		return fmt.Errorf("record task result: %w", err)
	}

	img.IsProcessed = true
	img.ProcessStatus = model.StatusCompleted
	if err := p.DB.UpdateImage(img); err != nil {
		slog.Warn("record image processed failed", "image_id", img.ID, "error", err)
	}

	slog.Info("processed image", "image_id", img.ID, "task", task.Kind)
	return nil
}

func (p *Pipeline) executeTask(task *model.ProcessingTask, img *model.Image, srcPath string) (string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	src, format, err := Decode(data)
	if err != nil {
		return "", err
	}

	params, err := model.DecodeTaskParams(task.Params)
	if err != nil {
		return "", err
	}
	if err := params.Validate(task.Kind); err != nil {
		return "", err
	}

	base := filepath.Base(srcPath)
	var out = src
	var name string

	switch task.Kind {
	case model.TaskResize:
		out = Resize(src, params.Resize.Width, params.Resize.Height)
		name = fmt.Sprintf("resized_%dx%d_%s", params.Resize.Width, params.Resize.Height, base)
	case model.TaskCrop:
		out = Crop(src, *params.Crop)
		name = fmt.Sprintf("cropped_%d_%d_%d_%d_%s",
			params.Crop.Left, params.Crop.Upper, params.Crop.Right, params.Crop.Lower, base)
	case model.TaskFilter:
		out = Filter(src, params.Filter.FilterType)
		name = fmt.Sprintf("%s_%s", params.Filter.FilterType, base)
	case model.TaskRotate:
		out = Rotate(src, params.Rotate.Angle)
		name = fmt.Sprintf("rotated_%g_%s", params.Rotate.Angle, base)
	case model.TaskThumbnail:
		out = Thumbnail(src, params.Thumbnail.Width, params.Thumbnail.Height)
		name = fmt.Sprintf("thumb_%dx%d_%s", params.Thumbnail.Width, params.Thumbnail.Height, base)
	default:
		return "", fmt.Errorf("unknown task kind: %s", task.Kind)
	}

	resultPath := filepath.Join(filepath.Dir(srcPath), name)
	encoded, err := Encode(out, format)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(resultPath, encoded, 0644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}

	// Thumbnail tasks also get a Thumbnail row, stored locally.
	if task.Kind == model.TaskThumbnail {
		t := &model.Thumbnail{
			ImageID:     img.ID,
			Size:        params.Thumbnail.Size,
			Width:       out.Bounds().Dx(),
			Height:      out.Bounds().Dy(),
			FilePath:    resultPath,
			StorageType: model.StorageLocal,
			StorageKey:  name,
		}
		if err := p.DB.CreateThumbnail(t); err != nil {
			slog.Warn("record task thumbnail failed", "image_id", img.ID, "error", err)
		}
	}

	return resultPath, nil
}

func (p *Pipeline) failTask(task *model.ProcessingTask, msg string) {
	now := time.Now().UTC()
	task.Status = model.StatusFailed
	task.Error = msg
	task.CompletedAt = &now
	if err := p.DB.UpdateTask(task); err != nil {
		slog.Error("record task failure failed", "task_id", task.ID, "error", err)
	}
}
