package analysis

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/alexistomaselli/valora-plus-3-sub000/internal/valuation"
)

type errorBody struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	ExpectWithOffset(1, json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
		createdAt   time.Time
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.SetAllowUnhandledRequests(false)
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	}

	post := func(path, contentType string, body io.Reader) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+path, contentType, body)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return resp
	}

	get := func(path string) *http.Response {
		resp, err := http.Get(ghttpServer.URL() + path)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return resp
	}

	seed := func(status Status, verified bool) {
		analysis := &Analysis{
			ID:         "an-1",
			Status:     status,
			Extraction: sampleRecord(),
			Filename:   "an-1_doc.txt",
			CreatedAt:  createdAt,
			UpdatedAt:  createdAt,
		}
		if verified {
			at := createdAt
			analysis.VerifiedAt = &at
		}
		db.analyses["an-1"] = analysis
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = &mockExtractor{record: sampleRecord()}
		createdAt = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
		service = NewServiceWithDeps(db, storage, extractor, &mockReader{}, nil,
			&fixedIDGenerator{ids: []string{"an-1"}}, &fixedTimeSource{now: createdAt})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("GET /healthz", func() {
		It("returns ok", func() {
			resp := get("/healthz")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("POST /api/analyses", func() {
		When("the body is JSON text", func() {
			It("creates the analysis", func() {
				resp := post("/api/analyses", "application/json", bytes.NewBufferString(`{"text":"TOTAL 2.420,00"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var analysis Analysis
				decodeBody(resp, &analysis)
				Expect(analysis.ID).To(Equal("an-1"))
				Expect(analysis.Extraction).NotTo(BeNil())
			})

			It("rejects empty text with field details", func() {
				resp := post("/api/analyses", "application/json", bytes.NewBufferString(`{"text":""}`))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body errorBody
				decodeBody(resp, &body)
				Expect(body.Details).To(HaveKey("text"))
			})

			It("rejects malformed JSON", func() {
				resp := post("/api/analyses", "application/json", bytes.NewBufferString(`{"text":`))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the body is a multipart upload", func() {
			var (
				body        *bytes.Buffer
				contentType string
			)

			BeforeEach(func() {
				body = &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				part, err := writer.CreateFormFile("file", "valoracion.txt")
				Expect(err).NotTo(HaveOccurred())
				_, err = part.Write([]byte("TOTAL 2.420,00"))
				Expect(err).NotTo(HaveOccurred())
				Expect(writer.Close()).To(Succeed())
				contentType = writer.FormDataContentType()
			})

			It("creates the analysis", func() {
				resp := post("/api/analyses", contentType, body)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()
				Expect(storage.files).To(HaveKey("an-1_valoracion.txt"))
			})

			It("reports a model failure with the analysis ID", func() {
				extractor.extractErr = &valuation.ModelError{Err: errors.New("quota exceeded")}
				resp := post("/api/analyses", contentType, body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))

				var errBody errorBody
				decodeBody(resp, &errBody)
				Expect(errBody.Error).To(ContainSubstring("quota exceeded"))
				Expect(errBody.Details).To(HaveKeyWithValue("analysis_id", "an-1"))
				Expect(errBody.Details).To(HaveKeyWithValue("status", "failed"))
			})

			It("maps parsing failures to 422", func() {
				extractor.extractErr = &valuation.ParsingError{Reason: "no JSON object found"}
				resp := post("/api/analyses", contentType, body)
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				resp.Body.Close()
			})
		})

		When("no file is provided", func() {
			It("returns bad request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("other", "x")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp := post("/api/analyses", writer.FormDataContentType(), body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var errBody errorBody
				decodeBody(resp, &errBody)
				Expect(errBody.Details).To(HaveKey("file"))
			})
		})
	})

	Describe("GET /api/analyses/{id}", func() {
		It("returns the analysis", func() {
			seed(StatusProcessing, false)
			resp := get("/api/analyses/an-1")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var analysis Analysis
			decodeBody(resp, &analysis)
			Expect(analysis.Extraction.Vehicle.Manufacturer).To(Equal("SEAT"))
		})

		It("returns 404 for unknown analyses", func() {
			resp := get("/api/analyses/missing")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			var body errorBody
			decodeBody(resp, &body)
			Expect(body.Error).NotTo(BeEmpty())
		})
	})

	Describe("GET /api/analyses", func() {
		It("lists analyses", func() {
			seed(StatusProcessing, false)
			resp := get("/api/analyses")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var analyses []Analysis
			decodeBody(resp, &analyses)
			Expect(analyses).To(HaveLen(1))
		})
	})

	Describe("GET /api/analyses/{id}/document", func() {
		It("returns the stored bytes with their content type", func() {
			seed(StatusProcessing, false)
			db.analyses["an-1"].ContentType = "text/plain"
			storage.files["an-1_doc.txt"] = []byte("TOTAL")

			resp := get("/api/analyses/an-1/document")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/plain"))
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("TOTAL")))
		})
	})

	Describe("PUT /api/analyses/{id}/extraction", func() {
		put := func(body string) *http.Response {
			req, err := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/api/analyses/an-1/extraction", bytes.NewBufferString(body))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("applies corrections", func() {
			seed(StatusProcessing, true)
			resp := put(`{"vehicle":{"license_plate":"1234BCD"},"financial":{"subtotal":100,"tax_rate":21,"tax_amount":21,"total":121}}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var analysis Analysis
			decodeBody(resp, &analysis)
			Expect(analysis.VerifiedAt).To(BeNil())
			Expect(analysis.Extraction.Financial.Subtotal).To(Equal(100.0))
		})

		It("returns 409 once costs exist", func() {
			seed(StatusCompleted, true)
			db.costs["an-1"] = sampleCosts()
			resp := put(`{"vehicle":{},"financial":{}}`)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})
	})

	Describe("POST /api/analyses/{id}/verify", func() {
		It("verifies the analysis", func() {
			seed(StatusProcessing, false)
			resp := post("/api/analyses/an-1/verify", "application/json", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var analysis Analysis
			decodeBody(resp, &analysis)
			Expect(analysis.VerifiedAt).NotTo(BeNil())
			Expect(analysis.Extraction.Vehicle.LicensePlate).To(Equal("1234BCD"))
		})

		It("reports an invalid plate as a field error", func() {
			seed(StatusProcessing, false)
			db.analyses["an-1"].Extraction.Vehicle.LicensePlate = "???"
			resp := post("/api/analyses/an-1/verify", "application/json", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body errorBody
			decodeBody(resp, &body)
			Expect(body.Details).To(HaveKey("license_plate"))
		})
	})

	Describe("costs and report", func() {
		costsJSON := `{"spare_parts_cost":500,"bodywork_hours":5,"bodywork_hourly_cost":40,"paint_hours":3,"paint_hourly_cost":30,"paint_consumables_cost":100}`

		It("creates costs and returns the report", func() {
			seed(StatusProcessing, true)
			resp := post("/api/analyses/an-1/costs", "application/json", bytes.NewBufferString(costsJSON))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var report map[string]any
			decodeBody(resp, &report)
			Expect(report).To(HaveKeyWithValue("margin_percent", 55.5))
		})

		It("returns 409 on a second submission", func() {
			seed(StatusProcessing, true)
			resp := post("/api/analyses/an-1/costs", "application/json", bytes.NewBufferString(costsJSON))
			resp.Body.Close()
			resp = post("/api/analyses/an-1/costs", "application/json", bytes.NewBufferString(costsJSON))
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})

		It("requires verification", func() {
			seed(StatusProcessing, false)
			resp := post("/api/analyses/an-1/costs", "application/json", bytes.NewBufferString(costsJSON))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body errorBody
			decodeBody(resp, &body)
			Expect(body.Details).To(HaveKey("verified_at"))
		})

		It("returns the recorded costs", func() {
			seed(StatusProcessing, true)
			resp := post("/api/analyses/an-1/costs", "application/json", bytes.NewBufferString(costsJSON))
			resp.Body.Close()

			resp = get("/api/analyses/an-1/costs")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var costs valuation.WorkshopCostRecord
			decodeBody(resp, &costs)
			Expect(costs.PaintHourlyCost).To(Equal(30.0))
		})

		It("returns 404 for the report before completion", func() {
			seed(StatusProcessing, true)
			resp := get("/api/analyses/an-1/report")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("exports the report as a spreadsheet", func() {
			seed(StatusProcessing, true)
			resp := post("/api/analyses/an-1/costs", "application/json", bytes.NewBufferString(costsJSON))
			resp.Body.Close()

			resp = get("/api/analyses/an-1/report.xlsx")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("analysis-an-1.xlsx"))
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(data).NotTo(BeEmpty())
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/analyses", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "taller", Password: "secreto"}
			setupServer()
		})

		It("rejects requests without credentials", func() {
			resp := get("/api/analyses")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Valora"))
			resp.Body.Close()
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/analyses", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("taller:secreto")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/analyses", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("taller", "mal")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("leaves the health check open", func() {
			resp := get("/healthz")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
