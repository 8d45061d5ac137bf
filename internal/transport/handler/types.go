package handler

type UploadParams struct {
	UserID      int64 `validate:"required,gt=0"`
	Concurrency int   `validate:"gte=0,lte=16"` // lanes for this batch, 0 means the server default
}
