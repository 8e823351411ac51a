package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/verifarm/internal/errors"
)

// httpErrorResponder writes every error produced by this package. Tests swap
// it to observe the errors before they are encoded.
var httpErrorResponder = apperrors.RespondWithError

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
