package scripting

// SecretSource lists decrypted secrets for expression evaluation.
// pkg/secrets provides the implementation.
type SecretSource interface {
	All() (map[string]string, error)
}

// SecretAwareEvaluator extends Evaluator with access to stored secrets.
// Expressions see them as a plain `secrets` object, so input like
// ${secrets.OPENAI_KEY} resolves without the caller threading keys
// through the context by hand.
type SecretAwareEvaluator struct {
	*Evaluator
	source SecretSource
}

// NewSecretAwareEvaluator creates an evaluator that resolves secrets
// from the given source.
func NewSecretAwareEvaluator(source SecretSource) *SecretAwareEvaluator {
	return &SecretAwareEvaluator{
		Evaluator: NewEvaluator(),
		source:    source,
	}
}

// Evaluate processes an expression with the secrets object added to the
// context.
func (e *SecretAwareEvaluator) Evaluate(expression string, context map[string]interface{}) (interface{}, error) {
	return e.Evaluator.Evaluate(expression, e.withSecrets(context))
}

// EvaluateInObject processes all expressions in an object with the
// secrets object added to the context.
func (e *SecretAwareEvaluator) EvaluateInObject(obj map[string]interface{}, context map[string]interface{}) (map[string]interface{}, error) {
	return e.Evaluator.EvaluateInObject(obj, e.withSecrets(context))
}

// withSecrets copies the context and injects the resolved secrets, so
// the caller's map is never modified. A source failure leaves the
// context without a secrets object rather than failing the evaluation.
func (e *SecretAwareEvaluator) withSecrets(context map[string]interface{}) map[string]interface{} {
	enhanced := make(map[string]interface{}, len(context)+1)
	for k, v := range context {
		enhanced[k] = v
	}

	if e.source == nil {
		return enhanced
	}

	values, err := e.source.All()
	if err != nil {
		return enhanced
	}

	secrets := make(map[string]interface{}, len(values))
	for k, v := range values {
		secrets[k] = v
	}
	enhanced["secrets"] = secrets

	return enhanced
}
