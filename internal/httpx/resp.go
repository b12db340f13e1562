package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Response represents the standard API response structure
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

var logger = logrus.WithField("component", "httpx")

// SetLogger replaces the logger used for internal errors
func SetLogger(l *logrus.Entry) {
	if l != nil {
		logger = l.WithField("component", "httpx")
	}
}

// OK sends a successful response with default message "success"
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// OKMsg sends a successful response with custom message
func OKMsg(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// Fail sends an error response with specified HTTP status, business code, and message
func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

// FailErr sends an error response from an AppError.
// AppError.Err is logged but never returned to the client.
func FailErr(c *gin.Context, err *AppError) {
	if err.Err != nil {
		logger.WithError(err.Err).WithFields(logrus.Fields{
			"code":   err.Code,
			"path":   c.FullPath(),
			"method": c.Request.Method,
		}).Error(err.Message)
	}

	c.JSON(err.HTTPStatus, Response{
		Code:    err.Code,
		Message: err.Message,
		Data:    err.Data,
	})
}

// EventList is the data of an event history response
type EventList struct {
	Items       interface{} `json:"items"`
	LastEventID string      `json:"lastEventId"`
	HasMore     bool        `json:"hasMore"`
}

// OKEvents sends a page of events and the cursor for the next request
func OKEvents(c *gin.Context, items interface{}, lastEventID string, hasMore bool) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data: EventList{
			Items:       items,
			LastEventID: lastEventID,
			HasMore:     hasMore,
		},
	})
}
