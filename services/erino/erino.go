package main

import (
	"net/http"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/chandankrroy/erino-backend/account"
	"github.com/chandankrroy/erino-backend/core"
	"github.com/chandankrroy/erino-backend/core/access"
	"github.com/chandankrroy/erino-backend/core/csql"
	"github.com/chandankrroy/erino-backend/core/logger"
	"github.com/chandankrroy/erino-backend/leads"
	"github.com/chandankrroy/erino-backend/notify"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres     string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	Port         string `env:"PORT,default=3000" description:"the port the service listens on"`
	JwtSecret    string `env:"JWT_SECRET,required" description:"the HS256 signing secret for session tokens"`
	KafkaBrokers string `env:"KAFKA_BROKERS" description:"comma-separated kafka brokers for lead notifications, empty disables them"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=erino.leads" description:"the kafka topic for lead notifications"`
	CorsOrigins  string `env:"CORS_ORIGINS" description:"comma-separated allowed CORS origins, empty allows all"`
	LogLevel     string `env:"LOG_LEVEL,default=info" description:"the logrus log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logLevel, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(logLevel)
	rlog := logger.Default()

	db := csql.OpenWithSchema(service.Postgres, "erino")
	defer db.Close()

	var notifier core.Notifier
	if len(service.KafkaBrokers) > 0 {
		kafkaNotifier := notify.NewKafkaNotifier(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Secret: service.JwtSecret,
		DB:     db,
	}))

	account.MustNew(&account.Builder{
		DB:        db,
		Router:    router,
		JwtSecret: service.JwtSecret,
	})
	leads.MustNew(&leads.Builder{
		DB:       db,
		Router:   router,
		Notifier: notifier,
	})

	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		jsonData, _ := json.Marshal(map[string]string{"version": version})
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		jsonData, _ := json.Marshal(map[string]string{"status": "ok"})
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}).Methods(http.MethodOptions, http.MethodGet)

	origins := []string{"*"}
	if len(service.CorsOrigins) > 0 {
		origins = strings.Split(service.CorsOrigins, ",")
	}
	handler := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		handlers.AllowCredentials(),
	)(router)
	handler = handlers.CombinedLoggingHandler(os.Stdout, handler)

	rlog.Infoln("listen on port :" + service.Port)
	rlog.Fatal(http.ListenAndServe(":"+service.Port, handler))
}
