package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/ingest"
	"github.com/joseph-ayodele/receipts-inbox/internal/repository"
)

// webhookPayload accepts the inbound-email provider's form post or the same
// fields as JSON.
type webhookPayload struct {
	Sender    string     `form:"sender" json:"sender"`
	Subject   string     `form:"subject" json:"subject"`
	BodyPlain string     `form:"body-plain" json:"body-plain"`
	BodyHTML  string     `form:"body-html" json:"body-html"`
	Timestamp flexString `form:"timestamp" json:"timestamp"`
	Token     string     `form:"token" json:"token"`
	Signature string     `form:"signature" json:"signature"`
}

// flexString decodes a JSON string or number (providers send timestamps as both).
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (s *Server) handleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)

	var p webhookPayload
	if err := c.ShouldBind(&p); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "INVALID_INPUT", "message": "payload too large"})
			return
		}
		badRequest(c, "invalid payload: "+err.Error())
		return
	}

	adm, err := s.deps.Ingest.Ingest(c.Request.Context(), entity.InboundMessage{
		Sender:    p.Sender,
		Subject:   p.Subject,
		BodyPlain: p.BodyPlain,
		BodyHTML:  p.BodyHTML,
		Timestamp: string(p.Timestamp),
		Token:     p.Token,
		Signature: p.Signature,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, adm)
}

func (s *Server) handleGetLedger(c *gin.Context) {
	entry, err := s.deps.Ledger.Get(c.Request.Context(), c.Param("fingerprint"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry.Redacted())
}

func (s *Server) handleListLedger(c *gin.Context) {
	filter, ok := parseLedgerFilter(c, 0)
	if !ok {
		return
	}
	entries, err := s.deps.Ledger.ListRecent(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]*entity.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Redacted())
	}
	c.JSON(http.StatusOK, gin.H{"entries": out, "count": len(out)})
}

func (s *Server) handleRetry(c *gin.Context) {
	fp := c.Param("fingerprint")
	if err := s.deps.Ingest.Retry(c.Request.Context(), fp); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ingest.Admission{Fingerprint: fp, Outcome: ingest.OutcomeQueued})
}

func (s *Server) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Ingest.QueueStatus())
}

func (s *Server) handleExport(c *gin.Context) {
	if s.deps.Exporter == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": "export disabled"})
		return
	}
	filter, ok := parseLedgerFilter(c, s.cfg.ExportLimit)
	if !ok {
		return
	}
	data, err := s.deps.Exporter.ExportLedgerXLSX(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error("export.xlsx.failed", "error", err)
		abortWithError(c, err)
		return
	}
	name := fmt.Sprintf("ledger-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	if s.deps.Ping != nil {
		if err := s.deps.Ping(ctx); err != nil {
			s.logger.Error("healthz.db_failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
			return
		}
	}
	counts, err := s.deps.Ledger.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("healthz.counts_failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
		return
	}
	body := gin.H{
		"status":   "ok",
		"database": "up",
		"ledger":   counts,
		"queue":    s.deps.Ingest.QueueStatus(),
	}
	if s.deps.Orders != nil {
		n, err := s.deps.Orders.Count(ctx)
		if err != nil {
			s.logger.Error("healthz.counts_failed", "table", "orders", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
			return
		}
		body["orders"] = n
	}
	if s.deps.Products != nil {
		n, err := s.deps.Products.CountDrafts(ctx)
		if err != nil {
			s.logger.Error("healthz.counts_failed", "table", "products", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
			return
		}
		body["draft_products"] = n
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	if s.deps.Orders == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": "orders disabled"})
		return
	}
	order, err := s.deps.Orders.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleGetProduct(c *gin.Context) {
	if s.deps.Products == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": "catalog disabled"})
		return
	}
	p, err := s.deps.Products.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// productPayload adds a reviewed product to the catalog receipts match against.
type productPayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       *float64 `json:"price"`
}

func (s *Server) handleCreateProduct(c *gin.Context) {
	if s.deps.Products == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": "catalog disabled"})
		return
	}
	var p productPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		badRequest(c, "name is required")
		return
	}
	if p.Price != nil && *p.Price < 0 {
		badRequest(c, "price must not be negative")
		return
	}
	created, err := s.deps.Products.Create(c.Request.Context(), entity.Product{
		Name:        name,
		Description: strings.TrimSpace(p.Description),
		Price:       p.Price,
		Source:      constants.SourceManual,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	if s.deps.CatalogChanged != nil {
		s.deps.CatalogChanged()
	}
	c.JSON(http.StatusCreated, created)
}

// parseLedgerFilter reads ?status= and ?limit=; it writes the 400 itself.
func parseLedgerFilter(c *gin.Context, defaultLimit int) (repository.LedgerFilter, bool) {
	f := repository.LedgerFilter{Limit: defaultLimit}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		st, ok := constants.ParseLedgerStatus(raw)
		if !ok {
			badRequest(c, "unknown status "+strconv.Quote(raw))
			return f, false
		}
		f.Status = st
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return f, false
		}
		f.Limit = n
	}
	return f, true
}
