package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	sd "stardetect/pkg/stardetect"
)

// multipartOverhead is the room left for multipart headers and boundaries
// on top of the upload limit.
const multipartOverhead = 64 << 10

type detectResponse struct {
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Result *sd.Result        `json:"result"`
	Field  *sd.FieldAnalysis `json:"field,omitempty"`
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "listen address")
	configPath := fs.String("config", "", "JSON or YAML detector configuration used as the request baseline")
	maxUploadMiB := fs.Int64("max-upload", 512, "largest accepted upload in MiB")
	if err := fs.Parse(args); err != nil {
		return err
	}

	base := sd.DefaultConfig()
	if *configPath != "" {
		var err error
		if base, err = sd.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	r := newRouter(base, *maxUploadMiB<<20)
	return r.Run(*addr)
}

// newRouter serves the detection API. Query parameters of /api/v1/detect use
// the CLI flag names and override base for that request.
func newRouter(base sd.Config, maxUpload int64) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	r.POST("/api/v1/detect", func(c *gin.Context) {
		cfg, err := configFromQuery(base, c.Request.URL.Query())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload+multipartOverhead)
		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("request larger than %d bytes", tooLarge.Limit)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("missing file: %v", err)})
			return
		}
		if fh.Size > maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file too large: %d bytes", fh.Size)})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		fits, err := sd.ReadFitsFromBytes(data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		img, err := fits.Mat()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer img.Close()

		res, err := sd.NewDetector(cfg).Detect(c.Request.Context(), img)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sd.ErrCanceled) {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, detectResponse{
			Width:  fits.Width,
			Height: fits.Height,
			Result: res,
			Field:  sd.AnalyzeField(res.Stars, fits.Width, fits.Height),
		})
	})
	return r
}
