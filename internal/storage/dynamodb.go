package storage

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/models"
)

// DynamoDBStorage implements Storage interface using AWS DynamoDB
type DynamoDBStorage struct {
	client      dynamodbiface.DynamoDBAPI
	tableName   string
	statusTable string
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(cfg config.HistoryConfig) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Errorf("failed to create AWS session: %w", err)
	}

	storage := NewDynamoDBStorageWithClient(dynamodb.New(sess), cfg.TableName)

	// Create tables if they don't exist (for local testing)
	for _, table := range []string{storage.tableName, storage.statusTable} {
		if err := storage.ensureTable(table); err != nil {
			return nil, errors.Errorf("failed to ensure table %s exists: %w", table, err)
		}
	}

	return storage, nil
}

// NewDynamoDBStorageWithClient wraps an existing DynamoDB client
func NewDynamoDBStorageWithClient(client dynamodbiface.DynamoDBAPI, tableName string) *DynamoDBStorage {
	return &DynamoDBStorage{
		client:      client,
		tableName:   tableName,
		statusTable: tableName + "_status",
	}
}

// ensureTable creates a table keyed by a string id if it doesn't exist
func (d *DynamoDBStorage) ensureTable(table string) error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err == nil {
		return nil
	}

	_, err = d.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		return errors.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
}

// SaveRun stores a run report keyed by its id
func (d *DynamoDBStorage) SaveRun(ctx context.Context, report models.RunReport) error {
	item, err := dynamodbattribute.MarshalMap(report)
	if err != nil {
		return errors.Errorf("failed to marshal run %s: %w", report.ID, err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return errors.Errorf("failed to store run %s: %w", report.ID, err)
	}
	return nil
}

// ListRuns scans the run table and returns up to limit reports, newest first
func (d *DynamoDBStorage) ListRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	var runs []models.RunReport
	var decodeErr error

	input := &dynamodb.ScanInput{TableName: aws.String(d.tableName)}
	err := d.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		var batch []models.RunReport
		if decodeErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &batch); decodeErr != nil {
			return false
		}
		runs = append(runs, batch...)
		return true
	})
	if err != nil {
		return nil, errors.Errorf("failed to scan runs: %w", err)
	}
	if decodeErr != nil {
		return nil, errors.Errorf("failed to unmarshal runs: %w", decodeErr)
	}

	return newestFirst(runs, limit), nil
}

// GetRun retrieves a specific run by id
func (d *DynamoDBStorage) GetRun(ctx context.Context, id string) (*models.RunReport, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(id)},
		},
	})
	if err != nil {
		return nil, errors.Errorf("failed to get run %s: %w", id, err)
	}

	if result.Item == nil {
		return nil, nil // Run not found
	}

	var report models.RunReport
	if err := dynamodbattribute.UnmarshalMap(result.Item, &report); err != nil {
		return nil, errors.Errorf("failed to unmarshal run: %w", err)
	}
	return &report, nil
}

// UpdateRunStatus updates the run status
func (d *DynamoDBStorage) UpdateRunStatus(ctx context.Context, status models.RunStatus) error {
	item, err := dynamodbattribute.MarshalMap(status)
	if err != nil {
		return errors.Errorf("failed to marshal run status: %w", err)
	}

	// Fixed key for the status record
	item["id"] = &dynamodb.AttributeValue{S: aws.String(statusKey)}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.statusTable),
		Item:      item,
	})
	if err != nil {
		return errors.Errorf("failed to store run status: %w", err)
	}
	return nil
}

// GetRunStatus retrieves the current run status
func (d *DynamoDBStorage) GetRunStatus(ctx context.Context) (*models.RunStatus, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.statusTable),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(statusKey)},
		},
	})
	if err != nil {
		return nil, errors.Errorf("failed to get run status: %w", err)
	}

	if result.Item == nil {
		return NeverRun(), nil
	}

	var status models.RunStatus
	if err := dynamodbattribute.UnmarshalMap(result.Item, &status); err != nil {
		return nil, errors.Errorf("failed to unmarshal run status: %w", err)
	}
	return &status, nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
