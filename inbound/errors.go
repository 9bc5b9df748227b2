package inbound

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketplace/core"
)

func inboundBadInput(message string, metadata map[string]any) error {
	return core.ServiceFailure(nil, goerrors.CategoryBadInput, message, http.StatusBadRequest, core.ServiceErrorBadInput, metadata)
}

func inboundInternal(message string, metadata map[string]any) error {
	return core.ServiceFailure(nil, goerrors.CategoryInternal, message, http.StatusInternalServerError, core.ServiceErrorInternal, metadata)
}
