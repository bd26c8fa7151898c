package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/harmonic/blobstore"
)

// ErrConcurrentCommit is returned when another writer committed the same
// checkpoint version first.
var ErrConcurrentCommit = errors.New("concurrent checkpoint commit detected")

// DDBClient is the interface for the DynamoDB operations the registry
// needs.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Registry tracks the latest committed checkpoint per accumulation run,
// using DynamoDB conditional writes for the compare-and-swap semantics
// S3 lacks. Multiple hosts resuming and checkpointing the same run can
// then coordinate without clobbering each other's state.
//
// Table schema:
//   - Partition key: run_id (string)
//   - Sort key: version (number), monotonically increasing
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name harmonic-checkpoints \
//	  --attribute-definitions AttributeName=run_id,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=run_id,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type Registry struct {
	client    DDBClient
	tableName string
}

// NewRegistry creates a checkpoint registry over the given table.
func NewRegistry(client DDBClient, tableName string) *Registry {
	return &Registry{client: client, tableName: tableName}
}

// Commit records blobName as the next checkpoint version for runID and
// returns the committed version. A losing race returns
// ErrConcurrentCommit; the caller re-reads Latest and retries from the
// newer state.
func (r *Registry) Commit(ctx context.Context, runID, blobName string) (int64, error) {
	latest, _, err := r.Latest(ctx, runID)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return 0, err
	}
	version := latest + 1

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item: map[string]types.AttributeValue{
			"run_id":  &types.AttributeValueMemberS{Value: runID},
			"version": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
			"blob":    &types.AttributeValueMemberS{Value: blobName},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, fmt.Errorf("%w: version %d of run %q already exists", ErrConcurrentCommit, version, runID)
		}
		return 0, err
	}
	return version, nil
}

// Latest returns the newest committed version and checkpoint blob name
// for runID, or blobstore.ErrNotFound when the run has no checkpoint
// yet.
func (r *Registry) Latest(ctx context.Context, runID string) (int64, string, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("run_id = :run"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":run": &types.AttributeValueMemberS{Value: runID},
		},
		ScanIndexForward: aws.Bool(false), // newest first
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", err
	}
	if len(out.Items) == 0 {
		return 0, "", blobstore.ErrNotFound
	}

	item := out.Items[0]
	vAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", fmt.Errorf("registry item for run %q missing version attribute", runID)
	}
	version, err := strconv.ParseInt(vAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("registry item for run %q: %w", runID, err)
	}
	bAttr, ok := item["blob"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", fmt.Errorf("registry item for run %q missing blob attribute", runID)
	}
	return version, bAttr.Value, nil
}
