package config

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  admin_port: "8080"
  metrics_port: "9090"

store:
  backend: "postgres"
  dsn: "postgres://localhost/medic"

enricher:
  backend: "rest"
  endpoint: "http://intel.example.com"
  timeout: "5s"

executor:
  backend: "kubernetes"
  namespace: "prod"

decision:
  observer_mode: false
  auto_approve_enabled: true
  confidence_threshold: 0.8
  critical_modules:
    - "auth-service"

logging:
  level: "debug"
  format: "json"
`
				Expect(os.WriteFile(configFile, []byte(validConfig), 0644)).To(Succeed())
			})

			It("should load configuration successfully", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(config).NotTo(BeNil())

				Expect(config.Server.AdminPort).To(Equal("8080"))
				Expect(config.Store.Backend).To(Equal("postgres"))
				Expect(config.Store.DSN).To(Equal("postgres://localhost/medic"))
				Expect(config.Enricher.Backend).To(Equal("rest"))
				Expect(config.Executor.Namespace).To(Equal("prod"))
				Expect(config.Decision.AutoApproveEnabled).To(BeTrue())
				Expect(config.Decision.CriticalModules).To(ContainElement("auth-service"))
				Expect(config.Logging.Level).To(Equal("debug"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
server:
  admin_port: "3000"
`
				Expect(os.WriteFile(configFile, []byte(minimalConfig), 0644)).To(Succeed())
			})

			It("should load with defaults for missing values", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Store.Backend).To(Equal("memory"))
				Expect(config.Enricher.Backend).To(Equal("noop"))
				Expect(config.Executor.Backend).To(Equal("dryrun"))
				Expect(config.Executor.Namespace).To(Equal("default"))
				Expect(config.Dispatcher.MaxConcurrent).To(Equal(5))
				Expect(config.RiskWeights.SmithConfidence).To(Equal(0.30))
				Expect(config.RiskThresholds.AutoApproveMaxScore).To(Equal(0.3))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := "server:\n  admin_port: [\n"
				Expect(os.WriteFile(configFile, []byte(invalidConfig), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when store backend requires a DSN that is missing", func() {
			BeforeEach(func() {
				cfg := "store:\n  backend: \"postgres\"\n"
				Expect(os.WriteFile(configFile, []byte(cfg), 0644)).To(Succeed())
			})

			It("should return a validation error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("store DSN is required"))
			})
		})
	})

	Describe("validate", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{
				Store:      StoreConfig{Backend: "memory"},
				Enricher:   EnricherConfig{Backend: "noop"},
				Executor:   ExecutorConfig{Backend: "dryrun"},
				Decision:   DecisionConfig{ConfidenceThreshold: 0.7},
				Dispatcher: DispatcherConfig{MaxConcurrent: 5},
			}
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				Expect(validate(config)).To(Succeed())
			})
		})

		Context("when store backend is unsupported", func() {
			BeforeEach(func() { config.Store.Backend = "mongo" })

			It("should return a validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported store backend"))
			})
		})

		Context("when decision confidence threshold is out of range", func() {
			BeforeEach(func() { config.Decision.ConfidenceThreshold = 1.5 })

			It("should return a validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("confidence threshold"))
			})
		})

		Context("when max concurrent events is zero", func() {
			BeforeEach(func() { config.Dispatcher.MaxConcurrent = 0 })

			It("should return a validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("max concurrent events"))
			})
		})
	})

	Describe("loadFromEnv", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{}
			os.Clearenv()
		})

		AfterEach(func() {
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("STORE_BACKEND", "postgres")
				os.Setenv("ADMIN_PORT", "3000")
				os.Setenv("LOG_LEVEL", "debug")
				os.Setenv("AUTO_APPROVE_ENABLED", "true")
			})

			It("should load values from environment", func() {
				Expect(loadFromEnv(config)).To(Succeed())
				Expect(config.Store.Backend).To(Equal("postgres"))
				Expect(config.Server.AdminPort).To(Equal("3000"))
				Expect(config.Logging.Level).To(Equal("debug"))
				Expect(config.Decision.AutoApproveEnabled).To(BeTrue())
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				original := *config
				Expect(loadFromEnv(config)).To(Succeed())
				Expect(*config).To(Equal(original))
			})
		})

		Context("when a boolean override is malformed", func() {
			BeforeEach(func() {
				os.Setenv("OBSERVER_MODE", "not-a-bool")
			})

			It("should return an error", func() {
				err := loadFromEnv(config)
				Expect(err).To(HaveOccurred())
			})
		})
	})
})
