package server

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ipscope/internal/analysis"
	"ipscope/internal/api/dto"
	"ipscope/internal/database"
	"ipscope/internal/domain"
	"ipscope/internal/support"

	"github.com/charmbracelet/log"
)

var ipAnalyzer *analysis.Analyzer

// SetAnalyzer installs the pipeline the analyze endpoints run batches on.
// Called once during bootstrap.
func SetAnalyzer(a *analysis.Analyzer) {
	ipAnalyzer = a
}

func analyzeIPs(w http.ResponseWriter, r *http.Request) {
	if ipAnalyzer == nil {
		writeError(w, "Analyzer not ready", http.StatusServiceUnavailable)
		return
	}

	var request dto.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if len(request.IPAddresses) == 0 {
		writeError(w, "No IP addresses provided", http.StatusBadRequest)
		return
	}

	log.Infof("Analyzing %d addresses", len(request.IPAddresses))

	results := ipAnalyzer.AnalyzeIPs(r.Context(), request.IPAddresses)
	json.NewEncoder(w).Encode(results)
}

func analyzeUpload(w http.ResponseWriter, r *http.Request) {
	if ipAnalyzer == nil {
		writeError(w, "Analyzer not ready", http.StatusServiceUnavailable)
		return
	}

	textareaContent := r.FormValue("ipTextarea")
	clipboardContent := r.FormValue("clipboardIps")
	file, fileHeader, err := r.FormFile("file")

	var fileContent []byte

	if err == nil {
		defer file.Close()

		log.Debugf("Uploaded file: %s (%d bytes)", fileHeader.Filename, fileHeader.Size)

		fileContent, err = io.ReadAll(file)
		if err != nil {
			writeError(w, "Failed to read file", http.StatusInternalServerError)
			return
		}
	} else if len(textareaContent) == 0 && len(clipboardContent) == 0 {
		writeError(w, "Failed to retrieve file", http.StatusBadRequest)
		return
	}

	mergedContent := string(fileContent) + "\n" + textareaContent + "\n" + clipboardContent

	ips := support.ParseTextToIPs(mergedContent)
	if len(ips) == 0 {
		writeError(w, "No IP addresses found in input", http.StatusBadRequest)
		return
	}

	log.Infof("Parsed %d addresses from upload", len(ips))

	results := ipAnalyzer.AnalyzeIPs(r.Context(), ips)
	json.NewEncoder(w).Encode(results)
}

func getHistoryPage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil {
		log.Error("error converting page to int", "error", err.Error())
		writeError(w, "Invalid page", http.StatusBadRequest)
		return
	}

	pageSize := 0
	if rawPageSize := r.URL.Query().Get("pageSize"); rawPageSize != "" {
		if parsedPageSize, parseErr := strconv.Atoi(rawPageSize); parseErr == nil && parsedPageSize > 0 {
			pageSize = parsedPageSize
		}
	}

	search := strings.TrimSpace(r.URL.Query().Get("search"))

	analyses, total := database.GetAnalysisPage(page, pageSize, search)

	response := dto.AnalysisPage{
		Analyses: analyses,
		Total:    total,
	}

	json.NewEncoder(w).Encode(response)
}

func getAnalysisStats(w http.ResponseWriter, r *http.Request) {
	stats, err := database.GetAnalysisStats(10)
	if err != nil {
		log.Error("error aggregating analysis stats", "error", err.Error())
		writeError(w, "Failed to aggregate statistics", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(stats)
}

func exportAnalyses(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "csv"
	}
	if format != "csv" {
		writeError(w, "Unsupported export format", http.StatusBadRequest)
		return
	}

	analyses, err := database.GetAllAnalyses()
	if err != nil {
		log.Error("error loading analyses for export", "error", err.Error())
		writeError(w, "Failed to load analyses", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=analyses.csv")

	writer := csv.NewWriter(w)
	for _, record := range csvRecords(analyses) {
		if err := writer.Write(record); err != nil {
			log.Error("error writing export row", "error", err.Error())
			return
		}
	}
	writer.Flush()
}

var csvHeader = []string{
	"ip", "status", "threat_level", "threat_type", "country", "region", "city",
	"isp", "org", "confidence", "reputation", "categories", "last_seen", "analyzed_at",
}

func csvRecords(analyses []domain.IPAnalysis) [][]string {
	records := make([][]string, 0, len(analyses)+1)
	records = append(records, csvHeader)

	for i := range analyses {
		rec := &analyses[i]

		lastSeen := ""
		if rec.LastSeen != nil {
			lastSeen = rec.LastSeen.UTC().Format(time.RFC3339)
		}

		records = append(records, []string{
			rec.IP,
			rec.Status,
			rec.ThreatLevel,
			rec.ThreatType,
			rec.Country,
			rec.Region,
			rec.City,
			rec.ISP,
			rec.Org,
			strconv.Itoa(rec.Confidence),
			strconv.Itoa(rec.Reputation),
			strings.Join(rec.Categories, ";"),
			lastSeen,
			rec.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	return records
}
