package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
	"github.com/noah-isme/studio-schedule-api/pkg/middleware/requestid"
)

func requestIDFrom(c *gin.Context) string {
	return requestid.Value(c)
}

func bindError(err error, what string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, fmt.Sprintf("invalid %s payload", what))
}

// versionETag renders a series version as a strong entity tag.
func versionETag(version int) string {
	return fmt.Sprintf(`"%d"`, version)
}

// ifMatchVersion reads the series version from an If-Match header. It accepts the
// strong and weak forms of the tag produced by versionETag.
func ifMatchVersion(c *gin.Context) (int, bool, error) {
	raw := strings.TrimSpace(c.GetHeader("If-Match"))
	if raw == "" {
		return 0, false, nil
	}
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	version, err := strconv.Atoi(raw)
	if err != nil || version < 1 {
		return 0, false, appErrors.Clone(appErrors.ErrValidation, "If-Match must carry a series version")
	}
	return version, true, nil
}
