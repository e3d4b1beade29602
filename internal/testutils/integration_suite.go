package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"ragbridge/internal/config"
)

// IntegrationSuite starts the journal database, both vector stores and nsqd
// in containers.
type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer

	WeaviateHost  string
	QdrantURL     string
	NSQDHost      string
	NSQDHTTP      string
	MigrationPath string

	dbHost string
	dbPort int

	// Containers
	pgContainer       *postgres.PostgresContainer
	weaviateContainer testcontainers.Container
	qdrantContainer   testcontainers.Container
	nsqContainer      testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ragbridge_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	s.dbHost, err = pgContainer.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	s.dbPort = pgPort.Int()

	// Run Migrations
	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	s.MigrationPath = fmt.Sprintf("file://%s/../../migrations", basepath)

	m, err := migrate.New(s.MigrationPath, connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	// 2. Weaviate
	req := testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:latest",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
	}
	weaviateC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.weaviateContainer = weaviateC

	host, err := weaviateC.Host(ctx)
	require.NoError(s.T, err)
	port, err := weaviateC.MappedPort(ctx, "8080")
	require.NoError(s.T, err)

	s.WeaviateHost = fmt.Sprintf("%s:%s", host, port.Port())
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.WeaviateHost, Scheme: "http"})
	require.NoError(s.T, err)

	// 3. Qdrant
	qdrantC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:latest",
			ExposedPorts: []string{"6333/tcp"},
			WaitingFor:   wait.ForHTTP("/readyz").WithPort("6333/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(s.T, err)
	s.qdrantContainer = qdrantC

	qHost, err := qdrantC.Host(ctx)
	require.NoError(s.T, err)
	qPort, err := qdrantC.MappedPort(ctx, "6333")
	require.NoError(s.T, err)
	s.QdrantURL = fmt.Sprintf("http://%s:%s", qHost, qPort.Port())

	// 4. NSQ
	nsqReq := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"}, // Simplified for test
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: nsqReq,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC

	nsqHost, err := nsqC.Host(ctx)
	require.NoError(s.T, err)
	nsqPort, err := nsqC.MappedPort(ctx, "4150")
	require.NoError(s.T, err)
	nsqHTTPPort, err := nsqC.MappedPort(ctx, "4151")
	require.NoError(s.T, err)
	s.NSQDHost = fmt.Sprintf("%s:%s", nsqHost, nsqPort.Port())
	s.NSQDHTTP = fmt.Sprintf("%s:%s", nsqHost, nsqHTTPPort.Port())

	s.NSQ, err = nsq.NewProducer(s.NSQDHost, nsq.NewConfig())
	require.NoError(s.T, err)
}

// GetAppConfig returns a configuration pointing at the suite's containers.
// Paperless and the embedder are left to the caller.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	return &config.Config{
		DMSEngine:   "paperless",
		EmbedEngine: "ollama",
		RAGEngine:   "qdrant",

		OllamaURL:       "http://localhost:11434",
		OllamaModel:     "nomic-embed-text",
		OllamaBatchSize: 32,

		QdrantURL:        s.QdrantURL,
		QdrantCollection: "documents_test",
		WeaviateHost:     s.WeaviateHost,
		WeaviateScheme:   "http",
		WeaviateClass:    "DocumentChunkTest",
		VectorDistance:   "Cosine",

		ChunkSize:      1000,
		ChunkOverlap:   100,
		WriteBatchSize: 100,
		Concurrency:    5,
		ScrollLimit:    1000,

		JournalEnabled: true,
		DBHost:         s.dbHost,
		DBPort:         s.dbPort,
		DBUser:         "test",
		DBPass:         "test",
		DBName:         "ragbridge_test",
		MigrationPath:  s.MigrationPath,

		NSQDHost:         s.NSQDHost,
		NSQDHTTP:         s.NSQDHTTP,
		NSQLookupd:       "localhost:4161",
		EnableSyncWorker: false,

		ServerPort:   8081,
		QueryLogPath: filepath.Join(s.T.TempDir(), "query.log"),
		LogLevel:     "info",

		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,
	}
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.weaviateContainer != nil {
		s.weaviateContainer.Terminate(ctx)
	}
	if s.qdrantContainer != nil {
		s.qdrantContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}
