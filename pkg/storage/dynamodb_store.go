package storage

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// DynamoDBStore implements WorkflowStore on DynamoDB
type DynamoDBStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// DynamoDBConfig contains settings for the DynamoDB store
type DynamoDBConfig struct {
	Region      string
	AccessKey   string
	SecretKey   string
	TablePrefix string
	Endpoint    string // Optional, for local DynamoDB
}

// NewDynamoDBStore creates a DynamoDB-backed workflow store
func NewDynamoDBStore(config DynamoDBConfig) (*DynamoDBStore, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}

	if config.AccessKey != "" && config.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		)
	}

	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewDynamoDBStoreWithClient(dynamodb.New(sess), config.TablePrefix), nil
}

// NewDynamoDBStoreWithClient creates a store with a custom client. This is
// primarily used for testing with mock clients.
func NewDynamoDBStoreWithClient(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tablePrefix + "workflows",
	}
}

// Initialize creates the workflows table if it doesn't exist
func (s *DynamoDBStore) Initialize() error {
	_, err := s.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})

	if err == nil {
		return nil
	}

	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeResourceNotFoundException {
		_, err = s.client.CreateTable(&dynamodb.CreateTableInput{
			TableName: aws.String(s.tableName),
			AttributeDefinitions: []*dynamodb.AttributeDefinition{
				{
					AttributeName: aws.String("WorkflowID"),
					AttributeType: aws.String("S"),
				},
			},
			KeySchema: []*dynamodb.KeySchemaElement{
				{
					AttributeName: aws.String("WorkflowID"),
					KeyType:       aws.String("HASH"),
				},
			},
			BillingMode: aws.String("PAY_PER_REQUEST"),
		})

		if err != nil {
			return fmt.Errorf("failed to create workflows table: %w", err)
		}

		err = s.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
			TableName: aws.String(s.tableName),
		})

		if err != nil {
			return fmt.Errorf("failed to wait for table creation: %w", err)
		}

		return nil
	}

	return fmt.Errorf("failed to check if table exists: %w", err)
}

// Close cleans up resources
func (s *DynamoDBStore) Close() error {
	// Nothing to close for the DynamoDB client
	return nil
}

// dynamoWorkflowItem represents a workflow item in DynamoDB
type dynamoWorkflowItem struct {
	WorkflowID  string `json:"WorkflowID"`
	Name        string `json:"Name"`
	Description string `json:"Description"`
	Category    string `json:"Category"`
	Version     string `json:"Version"`
	Definition  string `json:"Definition"`
	CreatedAt   int64  `json:"CreatedAt"`
	UpdatedAt   int64  `json:"UpdatedAt"`
}

func (i dynamoWorkflowItem) metadata() Metadata {
	return Metadata{
		ID:          i.WorkflowID,
		Name:        i.Name,
		Description: i.Description,
		Category:    i.Category,
		Version:     i.Version,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}

// Save persists a serialized definition under the given id
func (s *DynamoDBStore) Save(id string, definition []byte) error {
	meta := extractMetadata(id, definition)
	now := time.Now().Unix()

	item := dynamoWorkflowItem{
		WorkflowID:  id,
		Name:        meta.Name,
		Description: meta.Description,
		Category:    meta.Category,
		Version:     meta.Version,
		Definition:  string(definition),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	existing, err := s.getItem(id)
	if err != nil && err != ErrWorkflowNotFound {
		return fmt.Errorf("failed to check if workflow exists: %w", err)
	}
	if err == nil {
		item.CreatedAt = existing.CreatedAt
	}

	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow item: %w", err)
	}

	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})

	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

// Get retrieves a serialized definition
func (s *DynamoDBStore) Get(id string) ([]byte, error) {
	item, err := s.getItem(id)
	if err != nil {
		return nil, err
	}
	return []byte(item.Definition), nil
}

// GetMetadata retrieves the stored metadata for one workflow
func (s *DynamoDBStore) GetMetadata(id string) (Metadata, error) {
	item, err := s.getItem(id)
	if err != nil {
		return Metadata{}, err
	}
	return item.metadata(), nil
}

// List returns metadata for every stored workflow
func (s *DynamoDBStore) List() ([]Metadata, error) {
	result, err := s.client.Scan(&dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	var items []dynamoWorkflowItem
	if err := dynamodbattribute.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow items: %w", err)
	}

	list := make([]Metadata, 0, len(items))
	for _, item := range items {
		list = append(list, item.metadata())
	}

	return list, nil
}

// Delete removes a workflow
func (s *DynamoDBStore) Delete(id string) error {
	if _, err := s.getItem(id); err != nil {
		return err
	}

	_, err := s.client.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"WorkflowID": {
				S: aws.String(id),
			},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) getItem(id string) (dynamoWorkflowItem, error) {
	result, err := s.client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"WorkflowID": {
				S: aws.String(id),
			},
		},
	})

	if err != nil {
		return dynamoWorkflowItem{}, fmt.Errorf("failed to get workflow: %w", err)
	}

	if result.Item == nil {
		return dynamoWorkflowItem{}, ErrWorkflowNotFound
	}

	var item dynamoWorkflowItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return dynamoWorkflowItem{}, fmt.Errorf("failed to unmarshal workflow item: %w", err)
	}

	return item, nil
}
