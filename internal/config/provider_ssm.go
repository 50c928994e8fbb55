package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the subset of the SSM client used by the provider.
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSecretProvider resolves secrets from AWS SSM Parameter Store with
// decryption enabled, supporting SecureString parameters.
type SSMSecretProvider struct {
	client ssmAPI
}

func NewSSMSecretProvider(client *ssm.Client) *SSMSecretProvider {
	return &SSMSecretProvider{client: client}
}

func (p *SSMSecretProvider) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("fetching SSM parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}
