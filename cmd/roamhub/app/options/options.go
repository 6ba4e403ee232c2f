package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/roamhub-io/roamhub/internal/roamhub"
	"github.com/roamhub-io/roamhub/pkg/app"
	"github.com/roamhub-io/roamhub/pkg/log"
	"github.com/roamhub-io/roamhub/pkg/options"
)

// ServerOptions groups every option the roaming hub server takes.
type ServerOptions struct {
	HttpOptions *options.HttpOptions `json:"http" mapstructure:"http"`
	MqttOptions *options.MqttOptions `json:"mqtt" mapstructure:"mqtt"`
	SyncOptions *options.SyncOptions `json:"sync" mapstructure:"sync"`
	Log         *log.Options         `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*ServerOptions)(nil)

func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HttpOptions: options.NewHttpOptions(),
		MqttOptions: options.NewMqttOptions(),
		SyncOptions: options.NewSyncOptions(),
		Log:         log.NewOptions(),
	}
}

func (o *ServerOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.SyncOptions.AddFlags(fss.FlagSet("sync"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *ServerOptions) Complete() error {
	return nil
}

func (o *ServerOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.SyncOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *ServerOptions) Config() (*roamhub.Config, error) {
	return &roamhub.Config{
		HttpOptions: o.HttpOptions,
		MqttOptions: o.MqttOptions,
		SyncOptions: o.SyncOptions,
	}, nil
}
