package card

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/cardsnap/internal/contact"
	"github.com/zombor/cardsnap/internal/scanning"
	"github.com/zombor/cardsnap/internal/vcard"
)

func uploadRequest(url, filename, contentType string, data []byte) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	req, err := http.NewRequest("POST", url, body)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeError(resp *http.Response) errorResponse {
	defer resp.Body.Close()
	var body errorResponse
	Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
	return body
}

var _ = Describe("Server", func() {
	var (
		device      *mockDevice
		extractor   *mockExtractor
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
		sessionURL  string
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
		sessionURL = ghttpServer.URL() + "/api/sessions/session-1"
	}

	BeforeEach(func() {
		device = &mockDevice{}
		extractor = newMockExtractor()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(device, extractor, contact.Reconciler{}, vcard.Serializer{},
			&mockIDGenerator{id: "session-1"},
			&mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleCreateSession", func() {
		It("returns the new session state", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/sessions", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var state State
			Expect(json.NewDecoder(resp.Body).Decode(&state)).To(Succeed())
			Expect(state.ID).To(Equal("session-1"))
			Expect(state.Camera).To(Equal(CameraReady))
		})

		When("the camera is denied", func() {
			BeforeEach(func() {
				device.openErr = errors.New("permission denied")
			})

			It("still creates the session", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/sessions", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var state State
				Expect(json.NewDecoder(resp.Body).Decode(&state)).To(Succeed())
				Expect(state.Camera).To(Equal(CameraUnavailable))
				Expect(state.CameraMessage).NotTo(BeEmpty())
			})
		})
	})

	Describe("handleGetSession", func() {
		It("returns 404 for unknown sessions", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/sessions/missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decodeError(resp).Kind).To(Equal("not_found"))
		})

		It("returns the contact being edited", func() {
			session := service.CreateSession(context.Background())
			Expect(session.Edit(contact.Email, "jane@example.com")).To(Succeed())

			resp, err := http.Get(sessionURL)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var state State
			Expect(json.NewDecoder(resp.Body).Decode(&state)).To(Succeed())
			Expect(state.Contact.Email).To(Equal("jane@example.com"))
		})
	})

	Describe("handleDeleteSession", func() {
		It("closes the session", func() {
			service.CreateSession(context.Background())

			req, err := http.NewRequest("DELETE", sessionURL, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(device.streams[0].stopCount()).To(Equal(1))
		})
	})

	Describe("handleCapture", func() {
		When("the camera is available", func() {
			It("returns the extracted contact with a notice", func() {
				service.CreateSession(context.Background())

				resp, err := http.Post(sessionURL+"/capture", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var body captureResponse
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				Expect(body.Notice.Title).To(Equal("Details Parsed"))
				Expect(body.Session.Contact.FirstName).To(Equal("Jane"))
				Expect(body.Session.HasPhoto).To(BeTrue())
			})
		})

		When("the camera is unavailable", func() {
			BeforeEach(func() {
				device.openErr = errors.New("no camera found")
			})

			It("returns 503 pointing at the upload fallback", func() {
				service.CreateSession(context.Background())

				resp, err := http.Post(sessionURL+"/capture", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))

				body := decodeError(resp)
				Expect(body.Kind).To(Equal("device_unavailable"))
				Expect(body.Fallback).To(Equal("upload"))
			})
		})
	})

	Describe("handleUpload", func() {
		var session *Session

		JustBeforeEach(func() {
			session = service.CreateSession(context.Background())
			Expect(session.Edit(contact.Title, "kept")).To(Succeed())
		})

		When("a valid photo is uploaded", func() {
			It("fills the contact", func() {
				resp, err := http.DefaultClient.Do(uploadRequest(sessionURL+"/upload", "card.png", "image/png", pngBytes()))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(session.Contact().Organization).To(Equal("Acme"))
				Expect(session.Contact().Title).To(Equal("CTO"))
			})

			It("infers the type from the filename", func() {
				resp, err := http.DefaultClient.Do(uploadRequest(sessionURL+"/upload", "card.png", "application/octet-stream", pngBytes()))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("a data URI is posted as JSON", func() {
			postDataURI := func(uri string) *http.Response {
				payload, err := json.Marshal(map[string]string{"photoUrl": uri})
				Expect(err).NotTo(HaveOccurred())
				resp, err := http.Post(sessionURL+"/upload", "application/json", bytes.NewReader(payload))
				Expect(err).NotTo(HaveOccurred())
				return resp
			}

			It("fills the contact from the decoded image", func() {
				resp := postDataURI("data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes()))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(session.Contact().Photo.Subtype).To(Equal("png"))
				Expect(session.Contact().Photo.Data).To(Equal(pngBytes()))
			})

			It("keeps the photo exportable when the media type has parameters", func() {
				resp := postDataURI("data:image/png;name=card.png;base64," + base64.StdEncoding.EncodeToString(pngBytes()))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(session.Contact().Photo.Subtype).To(Equal("png"))

				doc, err := session.Export()
				Expect(err).NotTo(HaveOccurred())
				Expect(doc.Body).To(ContainSubstring("PHOTO;ENCODING=b;TYPE=PNG:"))
			})

			It("rejects payloads that are not images without calling the extractor", func() {
				resp := postDataURI("data:image/png;base64,QUJD")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).Kind).To(Equal("decode_error"))
				Expect(extractor.calls).To(Equal(0))
				Expect(session.Contact().Photo).To(BeNil())
				Expect(session.Contact().Title).To(Equal("kept"))
			})

			It("rejects URIs that are not base64 images", func() {
				resp := postDataURI("https://example.com/card.jpg")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).Kind).To(Equal("decode_error"))
			})
		})

		When("the response does not match the schema", func() {
			BeforeEach(func() {
				extractor.err = scanning.ErrSchemaMismatch
			})

			It("returns a parsing error and leaves the contact unchanged", func() {
				resp, err := http.DefaultClient.Do(uploadRequest(sessionURL+"/upload", "card.png", "image/png", pngBytes()))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))

				body := decodeError(resp)
				Expect(body.Kind).To(Equal("schema_mismatch"))
				Expect(body.Title).To(Equal("Parsing Error"))
				Expect(session.Contact().Title).To(Equal("kept"))
			})
		})

		When("the file cannot be decoded", func() {
			It("returns 400", func() {
				resp, err := http.DefaultClient.Do(uploadRequest(sessionURL+"/upload", "card.jpg", "image/jpeg", []byte("nope")))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).Kind).To(Equal("decode_error"))
			})
		})

		When("no file is sent", func() {
			It("returns 400", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("note", "nothing")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp, err := http.Post(sessionURL+"/upload", writer.FormDataContentType(), body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).Kind).To(Equal("bad_request"))
			})
		})

		When("an extraction is already running", func() {
			BeforeEach(func() {
				extractor.started = make(chan struct{}, 1)
				extractor.release = make(chan struct{})
			})

			It("returns 409", func() {
				done := make(chan error, 1)
				go func() {
					_, err := session.CaptureFile(context.Background(), pngBytes(), "image/png")
					done <- err
				}()
				Eventually(extractor.started).Should(Receive())

				resp, err := http.DefaultClient.Do(uploadRequest(sessionURL+"/upload", "card.png", "image/png", pngBytes()))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				Expect(decodeError(resp).Kind).To(Equal("busy"))

				close(extractor.release)
				Eventually(done).Should(Receive(BeNil()))
			})
		})
	})

	Describe("handleCancelExtraction", func() {
		It("reports that nothing was canceled when idle", func() {
			service.CreateSession(context.Background())

			req, err := http.NewRequest("DELETE", sessionURL+"/extraction", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body map[string]bool
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body["canceled"]).To(BeFalse())
		})
	})

	Describe("handleEditContact", func() {
		var session *Session

		JustBeforeEach(func() {
			session = service.CreateSession(context.Background())
		})

		patch := func(body string) *http.Response {
			req, err := http.NewRequest("PATCH", sessionURL+"/contact", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("applies the edits", func() {
			resp := patch(`{"firstName": "Jane", "website": "example.com"}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(session.Contact().FirstName).To(Equal("Jane"))
			Expect(session.Contact().Website).To(Equal("example.com"))
		})

		It("rejects unknown fields without applying any edit", func() {
			resp := patch(`{"firstName": "Jane", "fax": "555"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp).Kind).To(Equal("unknown_field"))
			Expect(session.Contact().FirstName).To(BeEmpty())
		})

		It("rejects malformed bodies", func() {
			resp := patch(`not json`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp).Kind).To(Equal("bad_request"))
		})
	})

	Describe("handleExportVCard", func() {
		var session *Session

		JustBeforeEach(func() {
			session = service.CreateSession(context.Background())
			Expect(session.Edit(contact.FirstName, "Jane")).To(Succeed())
			Expect(session.Edit(contact.LastName, "Doe")).To(Succeed())
		})

		It("downloads contact.vcf", func() {
			resp, err := http.Get(sessionURL + "/vcard")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/vcard; charset=utf-8"))
			Expect(resp.Header.Get("Content-Disposition")).To(Equal(`attachment; filename="contact.vcf"`))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("BEGIN:VCARD\nVERSION:3.0\nN:Doe;Jane;;;\nFN:Jane Doe\nEND:VCARD\n"))
		})

		It("returns 500 for records that cannot be encoded", func() {
			Expect(session.Edit(contact.Title, "\xff")).To(Succeed())

			resp, err := http.Get(sessionURL + "/vcard")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(decodeError(resp).Kind).To(Equal("serialization_error"))
		})
	})

	Describe("handleGetPhoto", func() {
		It("returns 404 before any capture", func() {
			service.CreateSession(context.Background())

			resp, err := http.Get(sessionURL + "/photo")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("returns the captured photo", func() {
			session := service.CreateSession(context.Background())
			_, err := session.CaptureFile(context.Background(), pngBytes(), "image/png")
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Get(sessionURL + "/photo")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/sessions", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/sessions", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:wrong")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/sessions", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "pass")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})
	})

	Describe("Handler", func() {
		It("answers CORS preflight requests", func() {
			ghttpServer.Close()
			ghttpServer = ghttp.NewServer()
			ghttpServer.AppendHandlers(server.Handler().ServeHTTP)

			req, err := http.NewRequest("OPTIONS", ghttpServer.URL()+"/api/sessions", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})
})
