package handlers

import (
	"errors"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "visitinsight/internal/db"
)

type siteView struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	APIKey    string    `json:"apiKey"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

func viewSite(s *dbpkg.Site) siteView {
	return siteView{ID: s.ID, Name: s.Name, Domain: s.Domain, APIKey: s.APIKey, Active: s.Active, CreatedAt: s.CreatedAt}
}

type keyForgetter interface {
	Forget(apiKey string)
}

func ListSites(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := requireAdmin(ctx, db); !ok {
			return
		}

		c, cancel := requestContext()
		defer cancel()

		var sites []dbpkg.Site
		if err := db.WithContext(c).Order("id").Find(&sites).Error; err != nil {
			writeError(ctx, err)
			return
		}
		out := make([]siteView, 0, len(sites))
		for i := range sites {
			out = append(out, viewSite(&sites[i]))
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"sites": out})
	}
}

type createSiteRequest struct {
	Name   string `json:"name" validate:"required,max=255"`
	Domain string `json:"domain" validate:"required,hostname,max=255"`
}

// CreateSite registers a site and issues its API key. Admin only.
func CreateSite(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := requireAdmin(ctx, db); !ok {
			return
		}
		var req createSiteRequest
		if !decodeJSON(ctx, &req) {
			return
		}

		c, cancel := requestContext()
		defer cancel()

		var existing int64
		if err := db.WithContext(c).Model(&dbpkg.Site{}).Where("domain = ?", req.Domain).Count(&existing).Error; err != nil {
			writeError(ctx, err)
			return
		}
		if existing > 0 {
			errResponse(ctx, fasthttp.StatusConflict, "Domain already registered")
			return
		}

		key, err := dbpkg.GenerateAPIKey()
		if err != nil {
			writeError(ctx, err)
			return
		}

		site := &dbpkg.Site{Name: req.Name, Domain: req.Domain, APIKey: key, Active: true}
		if err := db.WithContext(c).Create(site).Error; err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusCreated, map[string]any{"site": viewSite(site)})
	}
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// SetSiteActive turns ingestion and reporting for a site on or off.
func SetSiteActive(db *gorm.DB, cache keyForgetter) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := requireAdmin(ctx, db); !ok {
			return
		}
		id, ok := pathUint(ctx, "id")
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid site ID")
			return
		}
		var req setActiveRequest
		if !decodeJSON(ctx, &req) {
			return
		}

		c, cancel := requestContext()
		defer cancel()

		var site dbpkg.Site
		err := db.WithContext(c).First(&site, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			errResponse(ctx, fasthttp.StatusNotFound, "Website not found")
			return
		}
		if err != nil {
			writeError(ctx, err)
			return
		}

		if err := db.WithContext(c).Model(&site).Update("active", *req.Active).Error; err != nil {
			writeError(ctx, err)
			return
		}
		cache.Forget(site.APIKey)
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"site": viewSite(&site)})
	}
}
