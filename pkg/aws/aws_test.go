package aws

import (
	"context"
	"errors"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSQS struct {
	messages []types.Message
	deleted  []string
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, sdkaws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestPollOnce_DeletesOnlyHandledMessages(t *testing.T) {
	fake := &fakeSQS{messages: []types.Message{
		{MessageId: sdkaws.String("1"), Body: sdkaws.String("ok"), ReceiptHandle: sdkaws.String("rh-1")},
		{MessageId: sdkaws.String("2"), Body: sdkaws.String("fail"), ReceiptHandle: sdkaws.String("rh-2")},
		{MessageId: sdkaws.String("3"), ReceiptHandle: sdkaws.String("rh-3")},
	}}
	c := &SQSConsumer{client: fake, queueURL: "http://localhost:4566/000000000000/payments", logger: zap.NewNop()}

	var seen []string
	err := c.pollOnce(context.Background(), func(_ context.Context, body string) error {
		seen = append(seen, body)
		if body == "fail" {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "fail"}, seen)
	assert.Equal(t, []string{"rh-1"}, fake.deleted)
}

func TestStartPolling_StopsOnCancel(t *testing.T) {
	c := &SQSConsumer{client: &fakeSQS{}, queueURL: "q", logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.StartPolling(ctx, func(context.Context, string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeSecrets struct {
	calls  int
	values map[string]string
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	v, ok := f.values[sdkaws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: sdkaws.String(v)}, nil
}

func TestSecretsClient_CachesAndParses(t *testing.T) {
	fake := &fakeSecrets{values: map[string]string{
		"orders/DB_CREDENTIALS": `{"POSTGRES_USER":"orders","POSTGRES_PASSWORD":"pw"}`,
		"orders/BROKEN":         `not-json`,
	}}
	s := &SecretsClient{client: fake, cache: map[string]string{}}

	m, err := s.GetSecretMap(context.Background(), "orders/DB_CREDENTIALS")
	require.NoError(t, err)
	assert.Equal(t, "orders", m["POSTGRES_USER"])

	_, err = s.GetSecret(context.Background(), "orders/DB_CREDENTIALS")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)

	_, err = s.GetSecretMap(context.Background(), "orders/BROKEN")
	assert.Error(t, err)

	_, err = s.GetSecret(context.Background(), "orders/MISSING")
	assert.Error(t, err)
}

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestMetricsClient_DisabledSendsNothing(t *testing.T) {
	fake := &fakeCloudWatch{}
	m := &MetricsClient{client: fake, namespace: "Orders", enabled: false}

	assert.NoError(t, m.RecordCount(context.Background(), MetricOrdersCreated, nil))
	assert.Empty(t, fake.inputs)
	assert.False(t, m.IsEnabled())

	var nilClient *MetricsClient
	assert.NoError(t, nilClient.RecordCount(context.Background(), MetricOrdersCreated, nil))
}

func TestMetricsClient_EnabledSendsDatum(t *testing.T) {
	fake := &fakeCloudWatch{}
	m := &MetricsClient{client: fake, namespace: "Orders", enabled: true}

	err := m.RecordCount(context.Background(), MetricPaymentSucceeded, map[string]string{"Service": "orders-service"})
	require.NoError(t, err)
	require.Len(t, fake.inputs, 1)
	assert.Equal(t, "Orders", sdkaws.ToString(fake.inputs[0].Namespace))
	assert.Equal(t, MetricPaymentSucceeded, sdkaws.ToString(fake.inputs[0].MetricData[0].MetricName))
	assert.Len(t, fake.inputs[0].MetricData[0].Dimensions, 1)
}
