package api

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"kmfx/internal/auth"
	"kmfx/internal/ledger"
	"kmfx/internal/portal"

	"github.com/go-chi/chi/v5"
)

const maxMultipartMemory = 32 << 20

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := s.portal.Summary(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleAccountLogin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in loginRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.portal.SetClientLogin(r.Context(), id, in.Username, in.Password); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdminCreate(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.portal.CreateAdmin(r.Context(), in.Username, in.Password); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (s *Server) handleAccountLicenses(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeLicenses(w, r, id)
}

func (s *Server) writeLicenses(w http.ResponseWriter, r *http.Request, accountID int64) {
	out, err := s.portal.Licenses(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"licenses": out})
}

func (s *Server) handleLicenseIssue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Expiry    string `json:"expiry"`
		AllowLive *bool  `json:"allow_live"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	expiry := time.Now().UTC().AddDate(1, 0, 0)
	if in.Expiry != "" {
		d, err := parseDate(in.Expiry)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		expiry = *d
	}
	allowLive := in.AllowLive == nil || *in.AllowLive
	lic, err := s.portal.IssueLicense(r.Context(), id, expiry, allowLive)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"license": lic, "file": portal.LicenseFile(lic)})
}

func (s *Server) handleLicenseFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lic, err := s.portal.License(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !s.canSeeAccount(r, lic.AccountID) {
		writeError(w, http.StatusNotFound, portal.ErrNotFound.Error())
		return
	}
	acc, err := s.ledger.Account(r.Context(), lic.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	name := portal.LicenseFileName(acc.Name, lic.GeneratedAt)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, portal.LicenseFile(lic))
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	out, err := s.portal.Threads(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": out})
}

func (s *Server) handleAccountMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.portal.Thread(r.Context(), id, portal.SenderStaff)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handleAccountMessageSend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := principalFromContext(r.Context())
	s.sendMessage(w, r, id, portal.SenderStaff, p.Username)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, accountID int64, from portal.SenderSide, name string) {
	var in struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.portal.SendMessage(r.Context(), accountID, from, name, in.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt64(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.portal.Announcements(r.Context(), int(limit))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"announcements": out})
}

func (s *Server) handleAnnouncementPost(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := principalFromContext(r.Context())
	a, err := s.portal.PostAnnouncement(r.Context(), in.Title, in.Message, p.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleAccountFiles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeFiles(w, r, id)
}

func (s *Server) writeFiles(w http.ResponseWriter, r *http.Request, accountID int64) {
	out, err := s.portal.ClientFiles(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": out})
}

// multipartUpload reads the "file" part of a multipart request.
func multipartUpload(r *http.Request) (portal.Upload, func(), error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return portal.Upload{}, func() {}, fmt.Errorf("%w: %v", portal.ErrInvalidInput, err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return portal.Upload{}, func() {}, fmt.Errorf("%w: %v", portal.ErrInvalidInput, err)
	}
	return portal.Upload{
		Name:        hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Size:        hdr.Size,
		Body:        f,
	}, func() { f.Close() }, nil
}

func (s *Server) handleAccountFileUpload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	up, done, err := multipartUpload(r)
	defer done()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	p, _ := principalFromContext(r.Context())
	f, err := s.portal.UploadClientFile(r.Context(), id, up, p.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.portal.DeleteClientFile(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := s.portal.ClientFile(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !s.canSeeAccount(r, f.AccountID) {
		writeError(w, http.StatusNotFound, portal.ErrNotFound.Error())
		return
	}
	_, d, err := s.portal.DownloadClientFile(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	serveDownload(w, r, d)
}

func (s *Server) handleEAVersions(w http.ResponseWriter, r *http.Request) {
	out, err := s.portal.EAVersions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": out})
}

func (s *Server) handleEAUpload(w http.ResponseWriter, r *http.Request) {
	up, done, err := multipartUpload(r)
	defer done()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	v, err := s.portal.UploadEAVersion(r.Context(), r.FormValue("version"), r.FormValue("notes"), up)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleEADownload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, d, err := s.portal.DownloadEAVersion(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	serveDownload(w, r, d)
}

func serveDownload(w http.ResponseWriter, r *http.Request, d portal.Download) {
	if d.URL != "" {
		http.Redirect(w, r, d.URL, http.StatusFound)
		return
	}
	defer d.Body.Close()
	ct := d.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Name}))
	_, _ = io.Copy(w, d.Body)
}

func (s *Server) handleRevenue(w http.ResponseWriter, r *http.Request) {
	rng, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	months, err := s.portal.MonthlyRevenue(r.Context(), rng)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"months": months, "stats": portal.SummarizeRevenue(months)})
}

func (s *Server) handleReportCSV(w http.ResponseWriter, r *http.Request) {
	kind := strings.ToLower(chi.URLParam(r, "kind"))
	p, _ := principalFromContext(r.Context())
	var buf bytes.Buffer
	switch kind {
	case "profits":
		rng, err := dateRange(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rows, err := s.portal.ProfitReport(r.Context(), rng)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		err = portal.WriteProfitsCSV(&buf, rows)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	case "withdrawals":
		status, err := parseWithdrawalStatus(r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rows, err := s.portal.WithdrawalReport(r.Context(), status)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if err := portal.WriteWithdrawalsCSV(&buf, rows); err != nil {
			writeDomainError(w, err)
			return
		}
	case "clients":
		accounts, err := s.ledger.ListAccounts(r.Context(), ledger.AccountFilter{})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if err := portal.WriteClientsCSV(&buf, accounts); err != nil {
			writeDomainError(w, err)
			return
		}
	case "audit":
		if p.Role != auth.RoleOwner {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		entries, err := s.audit.List(r.Context(), 5000)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if err := portal.WriteAuditCSV(&buf, entries); err != nil {
			writeDomainError(w, err)
			return
		}
	default:
		writeError(w, http.StatusNotFound, "unknown report")
		return
	}
	name := fmt.Sprintf("KMFX_%s_%s.csv", strings.ToUpper(kind[:1])+kind[1:], time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt64(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.audit.List(r.Context(), int(limit))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func dateRange(r *http.Request) (portal.DateRange, error) {
	from, err := queryDate(r, "from")
	if err != nil {
		return portal.DateRange{}, err
	}
	to, err := queryDate(r, "to")
	if err != nil {
		return portal.DateRange{}, err
	}
	return portal.DateRange{From: from, To: to}, nil
}

// canSeeAccount allows staff everywhere and clients only on their own account.
func (s *Server) canSeeAccount(r *http.Request, accountID int64) bool {
	p, err := principalFromContext(r.Context())
	if err != nil {
		return false
	}
	return p.Role.Staff() || p.AccountID == accountID
}
