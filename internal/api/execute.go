package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/seantiz/anvil/internal/datamodel"
	"github.com/seantiz/anvil/internal/engine"
	"github.com/seantiz/anvil/internal/model"
)

const maxBodySize = 1 << 20 // 1 MB

// Request fields, as named in JSON and in problems.
const (
	fieldTemplate            = "template"
	fieldDataModel           = "dataModel"
	fieldOutputFormat        = "outputFormat"
	fieldLocale              = "locale"
	fieldTimeZone            = "timeZone"
	fieldTagSyntax           = "tagSyntax"
	fieldInterpolationSyntax = "interpolationSyntax"
	fieldEngine              = "engine"
)

const (
	errCodeOverburden = "SERVICE_OVERBURDEN"
	msgOverburden     = "Sorry, the service is overburden and couldn't handle your request now. Try again later."
	msgEmptyRequest   = "Empty Template & data"

	dataModelErrorHeading = "Failed to parse data model:"
	dataModelErrorFooter  = "Note: This is NOT a template language error message. " +
		"The data model syntax is specific to this online service."
)

// printer formats the numbers in user facing messages.
var printer = message.NewPrinter(language.AmericanEnglish)

// executeRequest is the JSON body for POST /api/execute.
type executeRequest struct {
	Template            string `json:"template"`
	DataModel           string `json:"dataModel"`
	OutputFormat        string `json:"outputFormat"`
	Locale              string `json:"locale"`
	TimeZone            string `json:"timeZone"`
	TagSyntax           string `json:"tagSyntax"`
	InterpolationSyntax string `json:"interpolationSyntax"`
	Engine              string `json:"engine"`
}

type executeResponse struct {
	Result          string    `json:"result,omitempty"`
	TruncatedResult bool      `json:"truncatedResult"`
	ExecutionID     string    `json:"executionId,omitempty"`
	Problems        []problem `json:"problems,omitempty"`
}

// problem is a user facing complaint about one request field.
type problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if isBlank(body.Template) && isBlank(body.DataModel) {
		s.writeError(w, http.StatusBadRequest, msgEmptyRequest)
		return
	}

	req, problems := s.buildRequest(body)
	if len(problems) > 0 {
		countProblems(problems)
		s.writeJSON(w, http.StatusOK, executeResponse{Problems: problems})
		return
	}
	if req.Template == "" {
		s.writeJSON(w, http.StatusOK, executeResponse{})
		return
	}

	res, err := s.engine.Execute(r.Context(), req, s.limits.TimeLimit)
	if err != nil {
		s.writeExecuteError(w, r, req, err)
		return
	}

	resp := executeResponse{ExecutionID: req.ID}
	if res.Succeeded() {
		resp.Result = res.Output
		resp.TruncatedResult = res.Truncated
	} else {
		s.logger.Debug("template failed",
			"execution_id", req.ID,
			"cause", res.Failure.Cause,
			"error", res.Failure.Err,
		)
		resp.Problems = []problem{{Field: fieldTemplate, Message: res.Failure.Message()}}
		countProblems(resp.Problems)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// buildRequest validates body against the limits and the settings catalog.
// Every invalid field is reported, not just the first.
func (s *Server) buildRequest(body executeRequest) (*model.ExecutionRequest, []problem) {
	var problems []problem
	req := &model.ExecutionRequest{ID: model.NewID(), Template: body.Template}

	if utf8.RuneCountInString(body.Template) > s.limits.MaxTemplateLength {
		problems = append(problems, problem{fieldTemplate,
			printer.Sprintf("The template length has exceeded the %d character limit set for this service.", s.limits.MaxTemplateLength)})
	}

	var ok bool
	if req.OutputFormat, ok = s.catalog.OutputFormat(body.OutputFormat); !ok {
		problems = append(problems, invalidChoice(fieldOutputFormat, body.OutputFormat))
	}
	if req.Locale, ok = s.catalog.Locale(body.Locale); !ok {
		problems = append(problems, invalidChoice(fieldLocale, body.Locale))
	}
	if req.TimeZone, ok = s.catalog.TimeZone(body.TimeZone); !ok {
		problems = append(problems, invalidChoice(fieldTimeZone, body.TimeZone))
	}
	if req.TagSyntax, ok = s.catalog.TagSyntax(body.TagSyntax); !ok {
		problems = append(problems, invalidChoice(fieldTagSyntax, body.TagSyntax))
	}
	if req.InterpolationSyntax, ok = s.catalog.InterpolationSyntax(body.InterpolationSyntax); !ok {
		problems = append(problems, invalidChoice(fieldInterpolationSyntax, body.InterpolationSyntax))
	}
	if !s.registry.Has(body.Engine) {
		problems = append(problems, invalidChoice(fieldEngine, body.Engine))
	}
	req.Engine = body.Engine

	zone := req.TimeZone
	if zone == nil {
		zone = s.catalog.DefaultZone()
	}
	if utf8.RuneCountInString(body.DataModel) > s.limits.MaxDataModelLength {
		problems = append(problems, problem{fieldDataModel,
			printer.Sprintf("The data model length has exceeded the %d character limit set for this service.", s.limits.MaxDataModelLength)})
	} else if dm, err := datamodel.Parse(body.DataModel, zone); err != nil {
		problems = append(problems, problem{fieldDataModel,
			dataModelErrorHeading + "\n\n" + err.Error() + "\n\n" + dataModelErrorFooter})
	} else {
		req.DataModel = dm
	}

	return req, problems
}

func (s *Server) writeExecuteError(w http.ResponseWriter, r *http.Request, req *model.ExecutionRequest, err error) {
	var (
		fault        *engine.FaultError
		unresponsive *engine.UnresponsiveError
	)
	switch {
	case errors.Is(err, engine.ErrRejected), errors.Is(err, engine.ErrClosed):
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			ErrorCode:        errCodeOverburden,
			ErrorDescription: msgOverburden,
		})
	case r.Context().Err() != nil:
		// The client went away; nobody is left to answer.
		s.logger.Debug("client gone before execution finished", "execution_id", req.ID)
	case errors.As(err, &fault), errors.As(err, &unresponsive):
		// Already logged by the engine.
		s.writeError(w, http.StatusInternalServerError, "internal error while executing the template")
	default:
		s.logger.Error("execute template", "execution_id", req.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error while executing the template")
	}
}

func invalidChoice(field, raw string) problem {
	return problem{Field: field, Message: "Invalid value for " + strconv.Quote(field) + ": " + strconv.Quote(raw)}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
